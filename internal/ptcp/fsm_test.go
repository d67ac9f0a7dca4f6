package ptcp_test

import (
	"slices"
	"testing"

	"github.com/dantte-lp/natcore/internal/ptcp"
)

// TestFSMTransitionTable verifies every explicit transition in the
// pseudo-TCP FSM against SPEC_FULL.md §4.4, plus the reset/MTU-exhausted/
// excess-retransmit transitions installed uniformly across every
// non-closed state.
func TestFSMTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       ptcp.State
		event       ptcp.Event
		wantState   ptcp.State
		wantChanged bool
		wantActions []ptcp.Action
	}{
		{
			name:        "listen+connect->syn-sent",
			state:       ptcp.StateListen,
			event:       ptcp.EventConnect,
			wantState:   ptcp.StateSynSent,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionSendConnect},
		},
		{
			name:        "listen+recv connect->syn-received",
			state:       ptcp.StateListen,
			event:       ptcp.EventRecvConnect,
			wantState:   ptcp.StateSynReceived,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionSendConnect},
		},
		{
			name:        "syn-sent+recv connect->established",
			state:       ptcp.StateSynSent,
			event:       ptcp.EventRecvConnect,
			wantState:   ptcp.StateEstablished,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionNotifyOpened},
		},
		{
			name:        "syn-received+recv data->established",
			state:       ptcp.StateSynReceived,
			event:       ptcp.EventRecvData,
			wantState:   ptcp.StateEstablished,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionNotifyOpened},
		},
		{
			name:        "syn-received+recv connect retransmit->syn-received",
			state:       ptcp.StateSynReceived,
			event:       ptcp.EventRecvConnect,
			wantState:   ptcp.StateSynReceived,
			wantChanged: false,
			wantActions: []ptcp.Action{ptcp.ActionSendConnect},
		},
		{
			name:        "established+graceful empty->closed",
			state:       ptcp.StateEstablished,
			event:       ptcp.EventGracefulEmpty,
			wantState:   ptcp.StateClosed,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionNotifyClosed},
		},
		{
			name:        "established+reset->closed",
			state:       ptcp.StateEstablished,
			event:       ptcp.EventReset,
			wantState:   ptcp.StateClosed,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionNotifyClosed},
		},
		{
			name:        "syn-sent+reset->closed",
			state:       ptcp.StateSynSent,
			event:       ptcp.EventReset,
			wantState:   ptcp.StateClosed,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionNotifyClosed},
		},
		{
			name:        "listen+mtu exhausted->closed",
			state:       ptcp.StateListen,
			event:       ptcp.EventMTUExhausted,
			wantState:   ptcp.StateClosed,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionNotifyClosed},
		},
		{
			name:        "syn-received+excess retransmits->closed",
			state:       ptcp.StateSynReceived,
			event:       ptcp.EventExcessRetransmits,
			wantState:   ptcp.StateClosed,
			wantChanged: true,
			wantActions: []ptcp.Action{ptcp.ActionNotifyClosed},
		},
		{
			name:        "unlisted pair is a no-op",
			state:       ptcp.StateListen,
			event:       ptcp.EventGracefulEmpty,
			wantState:   ptcp.StateListen,
			wantChanged: false,
			wantActions: nil,
		},
		{
			name:        "closed ignores reset",
			state:       ptcp.StateClosed,
			event:       ptcp.EventReset,
			wantState:   ptcp.StateClosed,
			wantChanged: false,
			wantActions: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ptcp.Apply(tc.state, tc.event)

			if got.OldState != tc.state {
				t.Errorf("OldState = %v, want %v", got.OldState, tc.state)
			}
			if got.NewState != tc.wantState {
				t.Errorf("NewState = %v, want %v", got.NewState, tc.wantState)
			}
			if got.Changed != tc.wantChanged {
				t.Errorf("Changed = %v, want %v", got.Changed, tc.wantChanged)
			}
			if !slices.Equal(got.Actions, tc.wantActions) {
				t.Errorf("Actions = %v, want %v", got.Actions, tc.wantActions)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[ptcp.State]string{
		ptcp.StateListen:      "listen",
		ptcp.StateSynSent:     "syn-sent",
		ptcp.StateSynReceived: "syn-received",
		ptcp.StateEstablished: "established",
		ptcp.StateClosed:      "closed",
		ptcp.State(99):        "unknown",
	}

	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
