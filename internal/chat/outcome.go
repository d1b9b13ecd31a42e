package chat

import (
	"time"

	"github.com/duckmesh/dbchat/internal/query"
)

// Kind classifies how a request ended.
type Kind string

const (
	KindOK                    Kind = "ok"
	KindSchemaUnavailable     Kind = "schema_unavailable"
	KindInterpretationInvalid Kind = "interpretation_invalid"
	KindNeedsMoreInfo         Kind = "needs_more_info"
	KindPolicyDenied          Kind = "policy_denied"
	KindExecutionFailure      Kind = "execution_failure"
	KindUnsupportedIntent     Kind = "unsupported_intent"
	KindContractViolation     Kind = "contract_violation"
	KindInternal              Kind = "internal"
)

// State is a step of the request pipeline. Every request ends in StateDone.
type State string

const (
	StateStarted        State = "started"
	StateSchemaResolved State = "schema_resolved"
	StateInterpreted    State = "interpreted"
	StateDenied         State = "denied"
	StateNeedsInfo      State = "needs_info"
	StateInvalid        State = "invalid"
	StateApproved       State = "approved"
	StateExecuted       State = "executed"
	StateRendered       State = "rendered"
	StateDone           State = "done"
)

type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Outcome is what the caller sees. It never carries SQL or driver errors.
type Outcome struct {
	RequestID        string         `json:"request_id"`
	Message          string         `json:"response"`
	Success          bool           `json:"success"`
	Kind             Kind           `json:"kind"`
	Intent           string         `json:"intent,omitempty"`
	Records          []query.Record `json:"data,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	NeedsMoreInfo    bool           `json:"needs_more_info"`
	RequiredFields   []string       `json:"required_fields,omitempty"`
	ProcessingTime   time.Duration  `json:"-"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

func failure(kind Kind, message string) Outcome {
	return Outcome{Message: message, Success: false, Kind: kind, ErrorMessage: message}
}
