package session

import (
	"testing"

	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/stretchr/testify/assert"
)

func TestMessageIDDeterministic(t *testing.T) {
	payload := []byte("hi,bob")

	assert.Equal(t, MessageID(payload), MessageID([]byte("hi,bob")))
	assert.Len(t, MessageID(payload), 64)
}

func TestMessageIDSensitivity(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
	}{
		{"last byte", []byte("hi,bob"), []byte("hi,boc")},
		{"first byte", []byte("hi,bob"), []byte("Hi,bob")},
		{"length", []byte("hi,bob"), []byte("hi,bob ")},
		{"empty", []byte{}, []byte{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, MessageID(tt.a), MessageID(tt.b))
		})
	}
}

func TestGossipMessageIDUsesPayloadOnly(t *testing.T) {
	a := &pb.Message{Data: []byte("hi,bob"), From: []byte("one"), Seqno: []byte{1}}
	b := &pb.Message{Data: []byte("hi,bob"), From: []byte("two"), Seqno: []byte{2}}

	assert.Equal(t, gossipMessageID(a), gossipMessageID(b))
	assert.Equal(t, MessageID([]byte("hi,bob")), gossipMessageID(a))
}
