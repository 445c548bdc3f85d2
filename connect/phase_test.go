package connect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/punchchat/session"
)

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase    Phase
		expected string
	}{
		{PhaseIdle, "Idle"},
		{PhaseTransportReady, "TransportReady"},
		{PhaseListeningLocal, "ListeningLocal"},
		{PhaseObservedAddressExchanged, "ObservedAddressExchanged"},
		{PhaseModeActionIssued, "ModeActionIssued"},
		{PhaseEstablished, "Established"},
		{PhaseAborted, "Aborted"},
		{Phase(99), "Phase(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.phase.String())
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"dial", ModeDial, false},
		{"Listen", ModeListen, false},
		{" LISTEN ", ModeListen, false},
		{"", 0, true},
		{"relay", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModeYAML(t *testing.T) {
	var doc struct {
		Mode Mode `yaml:"mode"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("mode: dial\n"), &doc))
	assert.Equal(t, ModeDial, doc.Mode)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, "mode: dial\n", string(out))

	assert.Error(t, yaml.Unmarshal([]byte("mode: sideways\n"), &doc))

	_, err = Mode(7).MarshalText()
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestUnexpectedEventError(t *testing.T) {
	err := error(&UnexpectedEventError{
		Phase: PhaseListeningLocal,
		Event: session.Event{Type: session.PeerInfoSent},
	})

	assert.True(t, errors.Is(err, ErrUnexpectedEvent))
	assert.False(t, errors.Is(err, ErrInvariantViolation))
	assert.Equal(t, "unexpected event PeerInfoSent while waiting for ListeningLocal", err.Error())
}

func TestStateAddressesExchanged(t *testing.T) {
	assert.False(t, State{}.AddressesExchanged())
	assert.False(t, State{LearnedObservedAddr: true}.AddressesExchanged())
	assert.False(t, State{ToldRelayObservedAddr: true}.AddressesExchanged())
	assert.True(t, State{LearnedObservedAddr: true, ToldRelayObservedAddr: true}.AddressesExchanged())
}
