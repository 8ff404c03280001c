package engine

import (
	"fmt"
	"strings"
)

// Kind classifies engine failures. Callers match them with errors.Is against
// the Err* sentinels.
type Kind string

const (
	KindNoGateForStage      Kind = "no_gate_for_stage"
	KindGateAlreadyOpen     Kind = "gate_already_open"
	KindGateNotOpen         Kind = "gate_not_open"
	KindInvalidDecision     Kind = "invalid_decision"
	KindSelfCheckIncomplete Kind = "self_check_incomplete"
	KindStaleWriteConflict  Kind = "stale_write_conflict"
	KindNotPermitted        Kind = "not_permitted"
	KindInvalidTransition   Kind = "invalid_transition"
	KindValidation          Kind = "validation"
)

var (
	ErrNoGateForStage      = &Error{Kind: KindNoGateForStage}
	ErrGateAlreadyOpen     = &Error{Kind: KindGateAlreadyOpen}
	ErrGateNotOpen         = &Error{Kind: KindGateNotOpen}
	ErrInvalidDecision     = &Error{Kind: KindInvalidDecision}
	ErrSelfCheckIncomplete = &Error{Kind: KindSelfCheckIncomplete}
	ErrStaleWriteConflict  = &Error{Kind: KindStaleWriteConflict}
	ErrNotPermitted        = &Error{Kind: KindNotPermitted}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrValidation          = &Error{Kind: KindValidation}
)

type Error struct {
	Kind       Kind
	EntityType string
	EntityID   string
	Detail     string
	// Missing lists unanswered required self-check items.
	Missing []string
	// Allowed lists the decisions the gate accepts.
	Allowed []string
}

func (e *Error) Error() string {
	subject := e.EntityType + "/" + e.EntityID
	var msg string
	switch e.Kind {
	case KindNoGateForStage:
		msg = fmt.Sprintf("%s has no gate at its current stage", subject)
	case KindGateAlreadyOpen:
		msg = fmt.Sprintf("%s already has an open gate; decide it before opening another", subject)
	case KindGateNotOpen:
		msg = fmt.Sprintf("%s has no open gate; open one first", subject)
	case KindInvalidDecision:
		msg = fmt.Sprintf("decision not allowed for this gate; use one of: %s", strings.Join(e.Allowed, ", "))
	case KindSelfCheckIncomplete:
		msg = fmt.Sprintf("complete self-check items before submitting a decision: %s", strings.Join(e.Missing, ", "))
	case KindStaleWriteConflict:
		msg = fmt.Sprintf("%s was modified concurrently; reload and retry", subject)
	case KindNotPermitted:
		msg = "not permitted"
	case KindInvalidTransition:
		msg = fmt.Sprintf("%s cannot transition from its current stage", subject)
	case KindValidation:
		msg = "invalid input"
	default:
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches on Kind so that errors.Is(err, ErrGateNotOpen) works for any
// instance of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, entityType, entityID, detail string) *Error {
	return &Error{Kind: kind, EntityType: entityType, EntityID: entityID, Detail: detail}
}
