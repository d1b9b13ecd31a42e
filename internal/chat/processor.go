package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/dbchat/internal/audit"
	"github.com/duckmesh/dbchat/internal/nl2sql"
	"github.com/duckmesh/dbchat/internal/observability"
	"github.com/duckmesh/dbchat/internal/query"
	"github.com/duckmesh/dbchat/internal/render"
	"github.com/duckmesh/dbchat/internal/schema"
	"github.com/duckmesh/dbchat/internal/security"
)

type SchemaSource interface {
	Snapshot(ctx context.Context) (*schema.Snapshot, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, intent, sqlText string) security.Verdict
}

type Options struct {
	Schema      SchemaSource
	Interpreter nl2sql.Interpreter
	Gate        Authorizer
	Executor    query.Executor
	Audit       audit.Sink
	Logger      *slog.Logger
	Clock       func() time.Time
	NewID       func() string
}

// Processor runs one chat message through schema lookup, interpretation,
// authorization, execution and rendering. It is safe for concurrent use.
type Processor struct {
	schema      SchemaSource
	interpreter nl2sql.Interpreter
	gate        Authorizer
	executor    query.Executor
	audit       audit.Sink
	logger      *slog.Logger
	clock       func() time.Time
	newID       func() string
}

func NewProcessor(opts Options) (*Processor, error) {
	switch {
	case opts.Schema == nil:
		return nil, errors.New("schema source is required")
	case opts.Interpreter == nil:
		return nil, errors.New("interpreter is required")
	case opts.Gate == nil:
		return nil, errors.New("gate is required")
	case opts.Executor == nil:
		return nil, errors.New("executor is required")
	}

	p := &Processor{
		schema:      opts.Schema,
		interpreter: opts.Interpreter,
		gate:        opts.Gate,
		executor:    opts.Executor,
		audit:       opts.Audit,
		logger:      opts.Logger,
		clock:       opts.Clock,
		newID:       opts.NewID,
	}
	if p.audit == nil {
		p.audit = audit.Discard{}
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p, nil
}

// run is the request-local state of one Process call.
type run struct {
	id      string
	req     Request
	started time.Time
	state   State

	intent       string
	table        string
	sql          string
	params       int
	denial       string
	rowsReturned int
	rowsAffected int64
}

func (r *run) advance(state State) {
	r.state = state
}

// Process never returns an error. Every failure, including a panic in a
// collaborator, becomes an Outcome with Success false.
func (p *Processor) Process(ctx context.Context, req Request) (outcome Outcome) {
	r := &run{id: p.newID(), req: req, started: p.clock(), state: StateStarted}

	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.ErrorContext(ctx, "chat request panicked",
				slog.String("request_id", r.id),
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("state", string(r.state)),
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())),
			)
			outcome = failure(KindInternal, render.SystemError)
		}
		p.finish(ctx, r, &outcome)
	}()

	return p.process(ctx, r)
}

func (p *Processor) process(ctx context.Context, r *run) Outcome {
	snapshot, err := p.schema.Snapshot(ctx)
	if err != nil {
		p.logFailure(ctx, r, "schema snapshot unavailable", err)
		return failure(KindSchemaUnavailable, render.SystemError)
	}
	r.advance(StateSchemaResolved)

	op, err := p.interpreter.Interpret(ctx, nl2sql.Request{Input: r.req.Message, Schema: snapshot})
	if err != nil {
		p.logFailure(ctx, r, "interpretation failed", err)
		return failure(KindInterpretationInvalid, render.InvalidRequest)
	}
	r.advance(StateInterpreted)

	switch op := op.(type) {
	case nl2sql.Invalid:
		r.advance(StateInvalid)
		p.logger.InfoContext(ctx, "request not understood",
			slog.String("request_id", r.id),
			slog.String("engine_error", op.ErrorMessage),
		)
		return failure(KindInterpretationInvalid, render.InvalidRequest)
	case nl2sql.NeedsInfo:
		r.advance(StateNeedsInfo)
		r.intent = strings.ToUpper(op.Intent)
		r.table = op.Table
		fields := append([]string{}, op.MissingFields...)
		return Outcome{
			Message:        render.NeedsInfo(fields, op.Message),
			Kind:           KindNeedsMoreInfo,
			NeedsMoreInfo:  true,
			RequiredFields: fields,
		}
	case nl2sql.Actionable:
		return p.execute(ctx, r, op)
	default:
		p.logFailure(ctx, r, "interpretation returned an unrecognized operation", fmt.Errorf("operation type %T", op))
		return failure(KindContractViolation, render.SystemError)
	}
}

func (p *Processor) execute(ctx context.Context, r *run, op nl2sql.Actionable) Outcome {
	r.intent = strings.ToUpper(strings.TrimSpace(op.Intent))
	r.table = op.Table
	r.sql = op.SQL
	r.params = len(op.Params)

	verdict := p.gate.Authorize(ctx, op.Intent, op.SQL)
	if !verdict.Allowed {
		r.advance(StateDenied)
		r.denial = verdict.Reason
		return failure(KindPolicyDenied, render.AccessDenied)
	}
	r.advance(StateApproved)

	var (
		message string
		records []query.Record
	)
	switch r.intent {
	case "CREATE", "UPDATE", "DELETE":
		affected, err := p.executor.ExecuteWrite(ctx, op.SQL, op.Params)
		if err != nil {
			p.logFailure(ctx, r, "write failed", err)
			return failure(KindExecutionFailure, render.SystemError)
		}
		r.advance(StateExecuted)
		r.rowsAffected = affected
		if r.intent == "CREATE" {
			message = render.Created
		} else {
			message = render.Mutation(affected, op.Message)
		}
	case "READ", "LIST", "COUNT":
		result, err := p.executor.ExecuteRead(ctx, op.SQL, op.Params)
		if err != nil {
			p.logFailure(ctx, r, "read failed", err)
			return failure(KindExecutionFailure, render.SystemError)
		}
		r.advance(StateExecuted)
		r.rowsReturned = result.Len()
		records = result.Records
		if r.intent == "COUNT" {
			message = render.Count(result, op.Message)
		} else {
			message = render.Read(r.intent, result, op.Message)
		}
	default:
		p.logFailure(ctx, r, "unsupported intent", fmt.Errorf("intent %q", op.Intent))
		return failure(KindUnsupportedIntent, render.SystemError)
	}
	r.advance(StateRendered)

	return Outcome{
		Message: message,
		Success: true,
		Kind:    KindOK,
		Intent:  r.intent,
		Records: records,
	}
}

func (p *Processor) finish(ctx context.Context, r *run, outcome *Outcome) {
	elapsed := p.clock().Sub(r.started)
	if elapsed < 0 {
		elapsed = 0
	}
	outcome.RequestID = r.id
	outcome.ProcessingTime = elapsed
	outcome.ProcessingTimeMs = elapsed.Milliseconds()
	lastState := r.state
	r.advance(StateDone)

	observability.ObserveChatRequest(r.intent, string(outcome.Kind), elapsed)
	p.audit.Record(ctx, audit.Record{
		RequestID:    r.id,
		SessionID:    r.req.SessionID,
		UserID:       r.req.UserID,
		Intent:       r.intent,
		Table:        r.table,
		Kind:         string(outcome.Kind),
		Success:      outcome.Success,
		DenialReason: r.denial,
		SQL:          r.sql,
		ParamCount:   r.params,
		RowsReturned: r.rowsReturned,
		RowsAffected: r.rowsAffected,
		Elapsed:      elapsed,
		OccurredAt:   r.started,
	})

	p.logger.LogAttrs(ctx, slog.LevelDebug, "chat request finished",
		slog.String("request_id", r.id),
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("kind", string(outcome.Kind)),
		slog.String("last_state", string(lastState)),
		slog.Duration("elapsed", elapsed),
	)
}

func (p *Processor) logFailure(ctx context.Context, r *run, msg string, err error) {
	p.logger.ErrorContext(ctx, msg,
		slog.String("request_id", r.id),
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("state", string(r.state)),
		slog.String("intent", r.intent),
		slog.String("sql", r.sql),
		slog.Any("error", err),
	)
}
