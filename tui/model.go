package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/opd-ai/punchchat/messaging"
)

// InputMode selects how key presses are interpreted.
type InputMode int

const (
	// Normal mode navigates the message list.
	Normal InputMode = iota
	// Editing mode types into the input line.
	Editing
)

// noSelection marks an unselected message list.
const noSelection = -1

// receivedMsg carries a formatted line from the network.
type receivedMsg struct{ line string }

// networkClosedMsg reports that the net-to-ui channel was closed.
type networkClosedMsg struct{}

// sentMsg reports that the in-flight line reached the ui-to-net channel.
type sentMsg struct{}

var (
	helpStyle     = lipgloss.NewStyle().Faint(true)
	boldStyle     = lipgloss.NewStyle().Bold(true)
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle    = lipgloss.NewStyle().Bold(true)
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	bodyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	editingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Model is the chat view. It is owned by the bubbletea program; the
// network side is reached only through the two channels.
type Model struct {
	ctx     context.Context
	name    string
	keys    KeyMap
	clock   messaging.TimeProvider
	uiToNet chan<- string
	netToUI <-chan string

	mode     InputMode
	input    textinput.Model
	messages []string
	selected int

	// Lines waiting for the ui-to-net channel. At most one send is in
	// flight so lines keep their order.
	pending []string
	sending bool

	networkClosed bool
	width         int
	height        int
}

// NewModel creates the chat view for the user called name.
func NewModel(ctx context.Context, name string, uiToNet chan<- string, netToUI <-chan string, clock messaging.TimeProvider) Model {
	input := textinput.New()
	input.Prompt = ""
	input.CharLimit = 0

	if clock == nil {
		clock = messaging.DefaultTimeProvider{}
	}

	return Model{
		ctx:      ctx,
		name:     name,
		keys:     DefaultKeyMap,
		clock:    clock,
		uiToNet:  uiToNet,
		netToUI:  netToUI,
		mode:     Normal,
		input:    input,
		selected: noSelection,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return listenForMessage(m.netToUI)
}

// listenForMessage blocks until the network delivers a line.
func listenForMessage(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return networkClosedMsg{}
		}
		return receivedMsg{line: line}
	}
}

// sendLine hands line to the network, blocking while the channel is full.
func sendLine(ctx context.Context, ch chan<- string, line string) tea.Cmd {
	return func() tea.Msg {
		select {
		case ch <- line:
			return sentMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-6, 1)
		return m, nil

	case receivedMsg:
		m.appendMessage(msg.line)
		return m, listenForMessage(m.netToUI)

	case networkClosedMsg:
		m.networkClosed = true
		return m, nil

	case sentMsg:
		m.sending = false
		return m, m.nextSend()

	case tea.KeyMsg:
		if m.mode == Editing {
			return m.updateEditing(msg)
		}
		return m.updateNormal(msg)
	}

	return m, nil
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Insert):
		m.mode = Editing
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Down):
		m.next()
	case key.Matches(msg, m.keys.Up):
		m.previous()
	case key.Matches(msg, m.keys.Home):
		if len(m.messages) > 0 {
			m.selected = 0
		}
	case key.Matches(msg, m.keys.End):
		if len(m.messages) > 0 {
			m.selected = len(m.messages) - 1
		}
	case key.Matches(msg, m.keys.Unselect):
		m.selected = noSelection
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Stop):
		m.mode = Normal
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Send):
		line := m.input.Value()
		m.input.Reset()
		if strings.TrimSpace(line) == "" {
			return m, nil
		}
		m.appendMessage(messaging.FormatLocal(m.name, line, m.clock.Now()))
		m.pending = append(m.pending, line)
		return m, m.nextSend()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// nextSend starts sending the oldest pending line unless a send is in
// flight.
func (m *Model) nextSend() tea.Cmd {
	if m.sending || len(m.pending) == 0 {
		return nil
	}
	line := m.pending[0]
	m.pending = m.pending[1:]
	m.sending = true
	return sendLine(m.ctx, m.uiToNet, line)
}

// appendMessage adds a line and selects it.
func (m *Model) appendMessage(line string) {
	m.messages = append(m.messages, line)
	m.selected = len(m.messages) - 1
}

func (m *Model) next() {
	if len(m.messages) == 0 {
		return
	}
	if m.selected == noSelection {
		m.selected = 0
		return
	}
	if m.selected < len(m.messages)-1 {
		m.selected++
	}
}

func (m *Model) previous() {
	if len(m.messages) == 0 {
		return
	}
	if m.selected == noSelection {
		m.selected = 0
		return
	}
	if m.selected > 0 {
		m.selected--
	}
}

// Mode returns the current input mode.
func (m Model) Mode() InputMode {
	return m.mode
}

// Messages returns the lines shown in the message list.
func (m Model) Messages() []string {
	return m.messages
}

// Selected returns the selected message index, or -1.
func (m Model) Selected() int {
	return m.selected
}

// Pending returns the number of lines not yet handed to the network,
// including the one in flight.
func (m Model) Pending() int {
	n := len(m.pending)
	if m.sending {
		n++
	}
	return n
}

// View implements tea.Model.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	height := m.height
	if height <= 0 {
		height = 24
	}

	help := m.helpLine()
	input := m.inputBox(width)
	listHeight := height - lipgloss.Height(help) - lipgloss.Height(input) - 2
	list := m.messageList(width, max(listHeight, 3))

	return lipgloss.JoinVertical(lipgloss.Left, help, list, input)
}

func (m Model) helpLine() string {
	var help string
	if m.mode == Normal {
		help = "Press " + boldStyle.Render("q") + " to exit, " + boldStyle.Render("i") + " to start editing."
	} else {
		help = "Press " + boldStyle.Render("Esc") + " to stop editing, " + boldStyle.Render("Enter") + " to send the message."
	}
	if m.networkClosed {
		help += " " + statusStyle.Render("(disconnected)")
	}
	return helpStyle.Render(help)
}

// messageList renders the message box. Each message takes two rows: its
// header and its body.
func (m Model) messageList(width, height int) string {
	rows := max(height-2, 1)
	perPage := max(rows/2, 1)

	start := 0
	if len(m.messages) > perPage {
		anchor := len(m.messages) - 1
		if m.selected != noSelection {
			anchor = m.selected
		}
		start = max(anchor-perPage+1, 0)
	}
	end := min(start+perPage, len(m.messages))

	lines := []string{titleStyle.Render("Messages")}
	for i := start; i < end; i++ {
		header, body := splitMessage(m.messages[i])
		item := headerStyle.Render(header) + "\n" + bodyStyle.Render(body)
		if i == m.selected {
			item = selectedStyle.Render(header) + "\n" + selectedStyle.Render(body)
		}
		lines = append(lines, item)
	}

	return boxStyle.Width(max(width-2, 1)).Height(rows).Render(strings.Join(lines, "\n"))
}

func (m Model) inputBox(width int) string {
	style := boxStyle
	if m.mode == Editing {
		style = style.BorderForeground(lipgloss.Color("3"))
	}
	content := titleStyle.Render("Input") + "\n"
	if m.mode == Editing {
		content += editingStyle.Render(m.input.View())
	} else {
		content += m.input.Value()
	}
	return style.Width(max(width-2, 1)).Render(content)
}

// splitMessage separates a display line into header and body. Received
// lines carry a CRLF between the two; local echoes use " - ".
func splitMessage(s string) (string, string) {
	if header, body, ok := strings.Cut(s, "\r\n"); ok {
		return header, body
	}
	if header, body, ok := strings.Cut(s, " - "); ok {
		return header, body
	}
	return s, ""
}
