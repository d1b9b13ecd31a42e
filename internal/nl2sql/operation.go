package nl2sql

import (
	"context"

	"github.com/duckmesh/dbchat/internal/schema"
)

// Operation is the engine's decision for one request. It is exactly one of
// Actionable, NeedsInfo or Invalid.
type Operation interface {
	isOperation()
}

// Actionable carries a statement ready for the security gate.
type Actionable struct {
	Intent  string
	Table   string
	SQL     string
	Params  []any
	Message string
}

type NeedsInfo struct {
	Intent        string
	Table         string
	MissingFields []string
	Message       string
}

type Invalid struct {
	ErrorMessage string
}

func (Actionable) isOperation() {}
func (NeedsInfo) isOperation()  {}
func (Invalid) isOperation()    {}

type Request struct {
	Input  string
	Schema *schema.Snapshot
}

// Interpreter turns free text into an Operation against a schema snapshot.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (Operation, error)
}

// Completer sends a prompt to a language model and returns its raw reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
