package decision

import "fmt"

// Action is the kind of outcome a position review produces. Exactly one
// action is returned per cycle; a partially-applied decision is meaningless.
type Action int

const (
	None Action = iota
	CloseFull
	ClosePartial
	AdjustStop
)

func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case CloseFull:
		return "close_full"
	case ClosePartial:
		return "close_partial"
	case AdjustStop:
		return "adjust_stop"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is one complete review outcome with its audit reason.
type Decision struct {
	Ticket          string
	Action          Action
	Fraction        float64
	NewStop         float64
	MoveToBreakeven bool
	Rule            string
	Reason          string
}

// Terminal reports whether the decision ends or reduces the position.
func (d Decision) Terminal() bool {
	return d.Action == CloseFull || d.Action == ClosePartial
}

func NoAction(reason string) Decision {
	return Decision{Action: None, Reason: reason}
}

func Close(rule, reason string) Decision {
	return Decision{Action: CloseFull, Fraction: 1, Rule: rule, Reason: reason}
}

func Reduce(rule string, fraction float64, reason string) Decision {
	return Decision{Action: ClosePartial, Fraction: fraction, Rule: rule, Reason: reason}
}

func Retarget(rule string, newStop float64, reason string) Decision {
	return Decision{Action: AdjustStop, NewStop: newStop, Rule: rule, Reason: reason}
}
