package messaging

import (
	"strings"
	"time"
)

// ChannelCapacity is the buffer size of the channels between the UI and
// the network task.
const ChannelCapacity = 32

// replacementChar substitutes invalid UTF-8 sequences in received payloads.
const replacementChar = "\uFFFD"

// clockLayout renders the receive time of a message.
const clockLayout = "15:04:05"

// Message is a chat line as it travels over the gossip topic.
type Message struct {
	Content string
	Name    string
}

// NewMessage creates a message from a line typed by name.
func NewMessage(content, name string) Message {
	return Message{Content: content, Name: name}
}

// Encode returns the wire form "<content>,<name>".
func Encode(m Message) []byte {
	buf := make([]byte, 0, len(m.Content)+1+len(m.Name))
	buf = append(buf, m.Content...)
	buf = append(buf, ',')
	buf = append(buf, m.Name...)
	return buf
}

// Decode parses a payload produced by Encode. It never fails: invalid
// UTF-8 is replaced with U+FFFD and a payload without a comma becomes
// the content with an empty name.
//
// The split happens on the first comma. A name containing commas round
// trips, but content containing commas does not: "a,b" sent by bob decodes
// as content "a" from "b,bob".
func Decode(data []byte) Message {
	text := strings.ToValidUTF8(string(data), replacementChar)
	content, name, found := strings.Cut(text, ",")
	if !found {
		return Message{Content: text}
	}
	return Message{Content: content, Name: name}
}

// Format renders a received message for display.
func Format(m Message, at time.Time) string {
	return m.Name + ", " + at.Format(clockLayout) + "\r\n" + m.Content
}

// FormatLocal renders a line the local user sent, for the echo in the
// message list.
func FormatLocal(name, line string, at time.Time) string {
	return name + " " + at.Format(clockLayout) + " - " + line
}
