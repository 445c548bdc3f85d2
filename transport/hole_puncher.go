package transport

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/holepunch"
	"github.com/sirupsen/logrus"
)

// HolePunchResult represents the result of a hole punching attempt.
type HolePunchResult uint8

const (
	// HolePunchSuccess means a direct connection replaced the relayed one.
	HolePunchSuccess HolePunchResult = iota
	// HolePunchFailedProtocol means the DCUtR exchange itself failed.
	HolePunchFailedProtocol
	// HolePunchFailedUnknown means the simultaneous dials did not connect.
	HolePunchFailedUnknown
)

func (r HolePunchResult) String() string {
	switch r {
	case HolePunchSuccess:
		return "success"
	case HolePunchFailedProtocol:
		return "protocol_error"
	case HolePunchFailedUnknown:
		return "failed"
	default:
		return "unknown"
	}
}

// HolePunchAttempt is one reported hole punching outcome.
type HolePunchAttempt struct {
	Remote peer.ID
	Result HolePunchResult
	// Direct is set when the direct dial succeeded without punching.
	Direct bool
	Error  string
}

// HolePunchTracer implements holepunch.EventTracer and reports terminal
// hole punching outcomes. Intermediate traces are only logged.
type HolePunchTracer struct {
	report func(HolePunchAttempt)
}

var _ holepunch.EventTracer = (*HolePunchTracer)(nil)

// NewHolePunchTracer returns a tracer invoking report for each outcome.
func NewHolePunchTracer(report func(HolePunchAttempt)) *HolePunchTracer {
	return &HolePunchTracer{report: report}
}

// Trace handles one DCUtR trace event.
func (t *HolePunchTracer) Trace(evt *holepunch.Event) {
	if evt == nil {
		return
	}

	fields := logrus.Fields{
		"function": "HolePunchTracer.Trace",
		"type":     evt.Type,
		"remote":   evt.Remote.String(),
	}

	attempt, terminal := classifyHolePunch(evt)
	if !terminal {
		logrus.WithFields(fields).Debug("Hole punch trace")
		return
	}

	fields["result"] = attempt.Result.String()
	if attempt.Error != "" {
		fields["error"] = attempt.Error
	}
	logrus.WithFields(fields).Info("Hole punch finished")

	if t.report != nil {
		t.report(attempt)
	}
}

// classifyHolePunch maps a trace to an outcome. Only a successful direct
// dial, a finished punch or a protocol error are terminal.
func classifyHolePunch(evt *holepunch.Event) (HolePunchAttempt, bool) {
	attempt := HolePunchAttempt{Remote: evt.Remote}

	switch e := evt.Evt.(type) {
	case *holepunch.DirectDialEvt:
		return directDial(attempt, e.Success)
	case holepunch.DirectDialEvt:
		return directDial(attempt, e.Success)
	case *holepunch.EndHolePunchEvt:
		return endPunch(attempt, e.Success, e.Error), true
	case holepunch.EndHolePunchEvt:
		return endPunch(attempt, e.Success, e.Error), true
	case *holepunch.ProtocolErrorEvt:
		attempt.Result = HolePunchFailedProtocol
		attempt.Error = e.Error
		return attempt, true
	case holepunch.ProtocolErrorEvt:
		attempt.Result = HolePunchFailedProtocol
		attempt.Error = e.Error
		return attempt, true
	default:
		return attempt, false
	}
}

func directDial(attempt HolePunchAttempt, success bool) (HolePunchAttempt, bool) {
	// A failed direct dial is followed by the actual punch.
	if !success {
		return attempt, false
	}
	attempt.Result = HolePunchSuccess
	attempt.Direct = true
	return attempt, true
}

func endPunch(attempt HolePunchAttempt, success bool, errStr string) HolePunchAttempt {
	if success {
		attempt.Result = HolePunchSuccess
		return attempt
	}
	attempt.Result = HolePunchFailedUnknown
	attempt.Error = errStr
	return attempt
}
