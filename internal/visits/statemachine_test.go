package visits

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		effect  Effect
		wantErr bool
	}{
		{"arrival appends to queue", StatusScheduled, StatusWaiting, EffectAppendQueue, false},
		{"call in from queue", StatusWaiting, StatusInProgress, EffectNone, false},
		{"rollback keeps order", StatusInProgress, StatusWaiting, EffectKeepOrder, false},
		{"finish treatment", StatusInProgress, StatusCompleted, EffectNone, false},
		{"complete from queue", StatusWaiting, StatusCompleted, EffectNone, false},
		{"cancel scheduled", StatusScheduled, StatusCancelled, EffectNone, false},
		{"cancel waiting", StatusWaiting, StatusCancelled, EffectNone, false},
		{"cancel in progress", StatusInProgress, StatusCancelled, EffectNone, false},
		{"sweeper misses scheduled", StatusScheduled, StatusMissed, EffectNone, false},
		{"sweeper misses waiting", StatusWaiting, StatusMissed, EffectNone, false},
		{"approve reservation", StatusPending, StatusScheduled, EffectNone, false},
		{"reactivate resets order", StatusCancelled, StatusScheduled, EffectResetOrder, false},

		{"no self transition", StatusWaiting, StatusWaiting, EffectNone, true},
		{"no skipping to in progress", StatusScheduled, StatusInProgress, EffectNone, true},
		{"completed is terminal", StatusCompleted, StatusWaiting, EffectNone, true},
		{"missed is terminal", StatusMissed, StatusScheduled, EffectNone, true},
		{"no resurrect to waiting", StatusCancelled, StatusWaiting, EffectNone, true},
		{"pending cannot jump the queue", StatusPending, StatusWaiting, EffectNone, true},
		{"unknown status", StatusWaiting, Status("LOST"), EffectNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, err := Transition(tt.from, tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("expected ErrIllegalTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if effect != tt.effect {
				t.Errorf("expected effect %s, got %s", tt.effect, effect)
			}
		})
	}
}

func TestStatusActive(t *testing.T) {
	for _, s := range ActiveStatuses {
		if !s.Active() {
			t.Errorf("%s should be active", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusCancelled, StatusMissed} {
		if s.Active() {
			t.Errorf("%s should not be active", s)
		}
	}
}
