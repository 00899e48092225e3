package visits

import "fmt"

// Effect is the queue-ordering side effect a legal transition demands.
type Effect int

const (
	// EffectNone leaves the order column untouched.
	EffectNone Effect = iota
	// EffectAppendQueue assigns the next order at the tail of the day's
	// waiting queue (SCHEDULED -> WAITING arrival).
	EffectAppendQueue
	// EffectKeepOrder preserves the existing order (IN_PROGRESS -> WAITING
	// rollback keeps the patient's place in line).
	EffectKeepOrder
	// EffectResetOrder sets order back to the 0 sentinel (reactivation
	// re-enters via SCHEDULED, not the waiting queue).
	EffectResetOrder
)

func (e Effect) String() string {
	switch e {
	case EffectAppendQueue:
		return "append-queue"
	case EffectKeepOrder:
		return "keep-order"
	case EffectResetOrder:
		return "reset-order"
	default:
		return "none"
	}
}

// Transition validates a status change and returns its ordering effect.
// It is pure: persistence and guard checks happen elsewhere.
func Transition(current, next Status) (Effect, error) {
	if !next.Valid() {
		return EffectNone, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, next)
	}
	if current == next {
		return EffectNone, fmt.Errorf("%w: already %s", ErrIllegalTransition, current)
	}

	switch current {
	case StatusPending:
		if next == StatusScheduled {
			return EffectNone, nil
		}
	case StatusScheduled:
		switch next {
		case StatusWaiting:
			return EffectAppendQueue, nil
		case StatusCancelled:
			return EffectNone, nil
		case StatusMissed:
			return EffectNone, nil
		}
	case StatusWaiting:
		switch next {
		case StatusInProgress, StatusCompleted, StatusCancelled, StatusMissed:
			return EffectNone, nil
		}
	case StatusInProgress:
		switch next {
		case StatusWaiting:
			return EffectKeepOrder, nil
		case StatusCompleted, StatusCancelled:
			return EffectNone, nil
		}
	case StatusCancelled:
		// Reactivation; the duplicate guard must pass before this commits.
		if next == StatusScheduled {
			return EffectResetOrder, nil
		}
	}
	return EffectNone, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, next)
}
