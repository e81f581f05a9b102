package domain

import (
	"errors"
	"fmt"
)

// Transition rules reported by InvalidTransitionError.
const (
	RuleNotYourTurn      = "not your turn"
	RuleNotYourOffer     = "not your offer"
	RuleNoLiveProposal   = "no live proposal"
	RuleAlreadyTerminal  = "already terminal"
	RuleProposalExists   = "proposal already exists"
	RuleRoleNotPermitted = "role not permitted"
	RuleNotParticipant   = "not a participant"
	RuleDuplicateTermID  = "duplicate term id"
	RuleStaleSnapshot    = "stale snapshot"
	RuleInvalidTerms     = "invalid terms"
	RuleInvalidMessage   = "invalid message"
)

// ErrInvalidTransition matches every *InvalidTransitionError with errors.Is.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrEmptyCandidateSet reports that no counterpart profiles exist for a search.
// It is a terminal empty result, distinct from a failed service call.
var ErrEmptyCandidateSet = errors.New("no candidates")

// InvalidTransitionError is returned when an operation's precondition fails.
type InvalidTransitionError struct {
	Op   string
	Rule string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition: %s", e.Op, e.Rule)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// InvalidTransition builds an *InvalidTransitionError.
func InvalidTransition(op, rule string) error {
	return &InvalidTransitionError{Op: op, Rule: rule}
}

// IsRule reports whether err is an invalid transition for the given rule.
func IsRule(err error, rule string) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite) && ite.Rule == rule
}

// ExternalServiceError reports a failed or unparseable scoring call.
// Payload carries the raw response body, if any.
type ExternalServiceError struct {
	Endpoint   string
	StatusCode int
	Payload    []byte
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := fmt.Sprintf("scoring service %s", e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Payload) > 0 {
		msg += ": " + truncate(string(e.Payload), 200)
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// StoreWriteError reports a failed document store write. Nothing was applied.
type StoreWriteError struct {
	ID  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.ID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// Kind classifies err for callers that report failures to users.
func Kind(err error) string {
	var (
		ite *InvalidTransitionError
		ese *ExternalServiceError
		swe *StoreWriteError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ite):
		return "invalid_transition"
	case errors.As(err, &ese):
		return "external_service"
	case errors.As(err, &swe):
		return "store_write"
	case errors.Is(err, ErrEmptyCandidateSet):
		return "empty_candidate_set"
	default:
		return "internal"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
