package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duckmesh/dbchat/internal/audit"
	"github.com/duckmesh/dbchat/internal/nl2sql"
	"github.com/duckmesh/dbchat/internal/query"
	"github.com/duckmesh/dbchat/internal/render"
	"github.com/duckmesh/dbchat/internal/schema"
	"github.com/duckmesh/dbchat/internal/security"
)

func TestProcessApprovedRead(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{
		Intent:  "READ",
		Table:   "users",
		SQL:     "SELECT * FROM users WHERE name LIKE ?",
		Params:  []any{"%john%"},
		Message: "Here is what I found.",
	}))
	h.executor.read = query.ReadResult{
		Columns: []string{"id", "name", "email"},
		Records: []query.Record{{"id": int64(1), "name": "John Smith", "email": "john@example.com"}},
	}

	outcome := h.processor.Process(context.Background(), Request{Message: "find users like john", SessionID: "s1", UserID: "u1"})

	if !outcome.Success || outcome.Kind != KindOK {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Intent != "READ" {
		t.Fatalf("intent = %q", outcome.Intent)
	}
	if !strings.Contains(outcome.Message, "Record Details") {
		t.Fatalf("message = %q", outcome.Message)
	}
	if len(outcome.Records) != 1 {
		t.Fatalf("records = %v", outcome.Records)
	}
	if h.executor.reads.Load() != 1 || h.executor.writes.Load() != 0 {
		t.Fatalf("reads=%d writes=%d", h.executor.reads.Load(), h.executor.writes.Load())
	}
	if h.executor.lastSQL != "SELECT * FROM users WHERE name LIKE ?" || h.executor.lastParams[0] != "%john%" {
		t.Fatalf("executor got %q %v", h.executor.lastSQL, h.executor.lastParams)
	}

	record := h.audit.only(t)
	if record.RequestID != "req-1" || record.SessionID != "s1" || record.UserID != "u1" {
		t.Fatalf("audit ids = %+v", record)
	}
	if record.Kind != "ok" || !record.Success || record.RowsReturned != 1 || record.ParamCount != 1 || record.Table != "users" {
		t.Fatalf("audit = %+v", record)
	}
}

func TestProcessDeniesUnboundedDeleteWithoutExecuting(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{Intent: "DELETE", Table: "users", SQL: "DELETE FROM users"}))

	outcome := h.processor.Process(context.Background(), Request{Message: "delete all users"})

	if outcome.Success || outcome.Kind != KindPolicyDenied {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Message != render.AccessDenied {
		t.Fatalf("message = %q", outcome.Message)
	}
	if strings.Contains(outcome.Message, "DELETE FROM") {
		t.Fatal("denied statement leaked into message")
	}
	if calls := h.executor.reads.Load() + h.executor.writes.Load(); calls != 0 {
		t.Fatalf("executor calls = %d, want 0", calls)
	}
	if record := h.audit.only(t); record.DenialReason != "pattern:delete_without_where" || record.SQL != "DELETE FROM users" {
		t.Fatalf("audit = %+v", record)
	}
}

func TestProcessMissingInformation(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.NeedsInfo{Intent: "CREATE", Table: "users", MissingFields: []string{"email"}}))

	outcome := h.processor.Process(context.Background(), Request{Message: "add a user called Ann"})

	if outcome.Success || !outcome.NeedsMoreInfo || outcome.Kind != KindNeedsMoreInfo {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(outcome.RequiredFields) != 1 || outcome.RequiredFields[0] != "email" {
		t.Fatalf("required fields = %v", outcome.RequiredFields)
	}
	if !strings.Contains(outcome.Message, "• email") {
		t.Fatalf("message = %q", outcome.Message)
	}
	if outcome.ErrorMessage != "" {
		t.Fatalf("error message = %q", outcome.ErrorMessage)
	}
	if h.executor.reads.Load()+h.executor.writes.Load() != 0 {
		t.Fatal("executor should not be called")
	}
}

func TestProcessMalformedReplyFallsBackToNeedsInfo(t *testing.T) {
	engine := nl2sql.NewEngine(replyCompleter("Sorry, I need more details about which user you mean."), nil)
	h := newHarness(t, engine)

	outcome := h.processor.Process(context.Background(), Request{Message: "update the user"})

	if outcome.Success || !outcome.NeedsMoreInfo {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Message != render.GenericNeedsInfo {
		t.Fatalf("message = %q", outcome.Message)
	}
	if len(outcome.RequiredFields) != 0 {
		t.Fatalf("required fields = %v", outcome.RequiredFields)
	}
}

func TestProcessListSkipsIntentAllowList(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{Intent: "LIST", Table: "users", SQL: "SELECT id, name FROM users"}))
	h.executor.read = query.ReadResult{
		Columns: []string{"id", "name"},
		Records: []query.Record{{"id": int64(1), "name": "a"}, {"id": int64(2), "name": "b"}},
	}

	outcome := h.processor.Process(context.Background(), Request{Message: "list users"})

	if !outcome.Success || outcome.Intent != "LIST" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !strings.Contains(outcome.Message, "Found 2 records") {
		t.Fatalf("message = %q", outcome.Message)
	}
}

func TestProcessListStillChecksStatement(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{Intent: "LIST", SQL: "SELECT * FROM users; DROP TABLE users"}))

	outcome := h.processor.Process(context.Background(), Request{Message: "list users"})

	if outcome.Kind != KindPolicyDenied || h.executor.reads.Load() != 0 {
		t.Fatalf("outcome = %+v reads = %d", outcome, h.executor.reads.Load())
	}
}

func TestProcessCount(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{Intent: "COUNT", SQL: "SELECT COUNT(*) AS total FROM users"}))
	h.executor.read = query.ReadResult{Columns: []string{"total"}, Records: []query.Record{{"total": int64(3)}}}

	outcome := h.processor.Process(context.Background(), Request{Message: "how many users"})

	if !outcome.Success || !strings.Contains(outcome.Message, "**3**") {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestProcessWrites(t *testing.T) {
	tests := []struct {
		name    string
		intent  string
		sql     string
		want    string
		affects int64
	}{
		{name: "create", intent: "CREATE", sql: "INSERT INTO users (name, email) VALUES (?, ?)", want: render.Created, affects: 1},
		{name: "update", intent: "UPDATE", sql: "UPDATE users SET email = ? WHERE id = ?", want: "**2** records", affects: 2},
		{name: "delete nothing", intent: "delete", sql: "DELETE FROM users WHERE id = ?", want: "No Records Updated", affects: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, scripted(nl2sql.Actionable{Intent: tc.intent, SQL: tc.sql, Params: []any{"x", int64(1)}}))
			h.executor.affected = tc.affects

			outcome := h.processor.Process(context.Background(), Request{Message: tc.name})

			if !outcome.Success || !strings.Contains(outcome.Message, tc.want) {
				t.Fatalf("outcome = %+v", outcome)
			}
			if outcome.Intent != strings.ToUpper(tc.intent) {
				t.Fatalf("intent = %q", outcome.Intent)
			}
			if h.executor.writes.Load() != 1 || h.executor.reads.Load() != 0 {
				t.Fatalf("reads=%d writes=%d", h.executor.reads.Load(), h.executor.writes.Load())
			}
			if record := h.audit.only(t); record.RowsAffected != tc.affects {
				t.Fatalf("audit = %+v", record)
			}
		})
	}
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(h *harness)
		wantKind    Kind
		wantMessage string
	}{
		{
			name:        "schema unavailable",
			setup:       func(h *harness) { h.schema.err = schema.ErrUnavailable },
			wantKind:    KindSchemaUnavailable,
			wantMessage: render.SystemError,
		},
		{
			name:        "engine transport error",
			setup:       func(h *harness) { h.interpreter.err = errors.New("connection refused") },
			wantKind:    KindInterpretationInvalid,
			wantMessage: render.InvalidRequest,
		},
		{
			name:        "engine reports error",
			setup:       func(h *harness) { h.interpreter.op = nl2sql.Invalid{ErrorMessage: "table payroll does not exist"} },
			wantKind:    KindInterpretationInvalid,
			wantMessage: render.InvalidRequest,
		},
		{
			name:        "nil operation",
			setup:       func(h *harness) { h.interpreter.op = nil },
			wantKind:    KindContractViolation,
			wantMessage: render.SystemError,
		},
		{
			name: "driver error",
			setup: func(h *harness) {
				h.interpreter.op = nl2sql.Actionable{Intent: "READ", SQL: "SELECT * FROM missing"}
				h.executor.err = errors.New(`relation "missing" does not exist`)
			},
			wantKind:    KindExecutionFailure,
			wantMessage: render.SystemError,
		},
		{
			name:        "interpreter panic",
			setup:       func(h *harness) { h.interpreter.panicWith = "boom" },
			wantKind:    KindInternal,
			wantMessage: render.SystemError,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, scripted(nl2sql.Actionable{Intent: "READ", SQL: "SELECT 1"}))
			tc.setup(h)

			outcome := h.processor.Process(context.Background(), Request{Message: "anything"})

			if outcome.Success || outcome.Kind != tc.wantKind {
				t.Fatalf("outcome = %+v", outcome)
			}
			if outcome.Message != tc.wantMessage || outcome.ErrorMessage != tc.wantMessage {
				t.Fatalf("message = %q error = %q", outcome.Message, outcome.ErrorMessage)
			}
			if outcome.RequestID == "" {
				t.Fatal("request id missing")
			}
			if record := h.audit.only(t); record.Kind != string(tc.wantKind) || record.Success {
				t.Fatalf("audit = %+v", record)
			}
		})
	}
}

func TestProcessSkipsInterpreterWhenSchemaFails(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{Intent: "READ", SQL: "SELECT 1"}))
	h.schema.err = schema.ErrUnavailable

	_ = h.processor.Process(context.Background(), Request{Message: "x"})

	if h.interpreter.calls.Load() != 0 {
		t.Fatalf("interpreter calls = %d", h.interpreter.calls.Load())
	}
}

func TestProcessUnsupportedIntent(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{Intent: "MERGE", SQL: "MERGE INTO users USING staged ON users.id = staged.id"}))
	h.gate = allowAll{}
	h.rebuild(t)

	outcome := h.processor.Process(context.Background(), Request{Message: "merge"})

	if outcome.Kind != KindUnsupportedIntent || outcome.Message != render.SystemError {
		t.Fatalf("outcome = %+v", outcome)
	}
	if h.executor.reads.Load()+h.executor.writes.Load() != 0 {
		t.Fatal("executor should not be called")
	}
}

func TestProcessReportsElapsedTime(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{Intent: "READ", SQL: "SELECT 1"}))
	start := time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int64
	h.clock = func() time.Time {
		return start.Add(time.Duration(calls.Add(1)-1) * 25 * time.Millisecond)
	}
	h.rebuild(t)

	outcome := h.processor.Process(context.Background(), Request{Message: "x"})

	if outcome.ProcessingTime != 25*time.Millisecond || outcome.ProcessingTimeMs != 25 {
		t.Fatalf("processing time = %s / %d", outcome.ProcessingTime, outcome.ProcessingTimeMs)
	}
	if record := h.audit.only(t); !record.OccurredAt.Equal(start) {
		t.Fatalf("occurred at = %s", record.OccurredAt)
	}
}

func TestProcessConcurrentRequests(t *testing.T) {
	h := newHarness(t, scripted(nl2sql.Actionable{Intent: "READ", SQL: "SELECT * FROM users WHERE id = ?", Params: []any{int64(1)}}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if outcome := h.processor.Process(context.Background(), Request{Message: "x"}); outcome.Kind != KindOK {
				t.Errorf("outcome = %+v", outcome)
			}
		}()
	}
	wg.Wait()

	if h.executor.reads.Load() != 20 || h.audit.count() != 20 {
		t.Fatalf("reads=%d audit=%d", h.executor.reads.Load(), h.audit.count())
	}
}

func TestNewProcessorRequiresCollaborators(t *testing.T) {
	if _, err := NewProcessor(Options{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewProcessor(Options{Schema: &fakeSchema{}, Interpreter: &fakeInterpreter{}, Gate: allowAll{}}); err == nil {
		t.Fatal("expected error for missing executor")
	}
}

type harness struct {
	schema      *fakeSchema
	interpreter *fakeInterpreter
	gate        Authorizer
	executor    *fakeExecutor
	audit       *captureSink
	clock       func() time.Time
	processor   *Processor
	ids         atomic.Int64
}

func newHarness(t *testing.T, interpreter nl2sql.Interpreter) *harness {
	t.Helper()
	h := &harness{
		schema:   &fakeSchema{snapshot: &schema.Snapshot{Tables: map[string]schema.Table{"users": {Name: "users"}}}},
		gate:     security.NewGate(nil),
		executor: &fakeExecutor{read: query.ReadResult{Records: []query.Record{}}},
		audit:    &captureSink{},
	}
	if fake, ok := interpreter.(*fakeInterpreter); ok {
		h.interpreter = fake
	} else {
		h.interpreter = &fakeInterpreter{delegate: interpreter}
	}
	h.rebuild(t)
	return h
}

func (h *harness) rebuild(t *testing.T) {
	t.Helper()
	processor, err := NewProcessor(Options{
		Schema:      h.schema,
		Interpreter: h.interpreter,
		Gate:        h.gate,
		Executor:    h.executor,
		Audit:       h.audit,
		Clock:       h.clock,
		NewID: func() string {
			if h.ids.Add(1) == 1 {
				return "req-1"
			}
			return "req-n"
		},
	})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	h.processor = processor
}

func scripted(op nl2sql.Operation) *fakeInterpreter {
	return &fakeInterpreter{op: op}
}

type fakeSchema struct {
	snapshot *schema.Snapshot
	err      error
}

func (f *fakeSchema) Snapshot(context.Context) (*schema.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeInterpreter struct {
	op        nl2sql.Operation
	err       error
	panicWith any
	delegate  nl2sql.Interpreter
	calls     atomic.Int64
}

func (f *fakeInterpreter) Interpret(ctx context.Context, req nl2sql.Request) (nl2sql.Operation, error) {
	f.calls.Add(1)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.delegate != nil {
		return f.delegate.Interpret(ctx, req)
	}
	return f.op, f.err
}

type fakeExecutor struct {
	read     query.ReadResult
	affected int64
	err      error

	mu         sync.Mutex
	lastSQL    string
	lastParams []any
	reads      atomic.Int64
	writes     atomic.Int64
}

func (f *fakeExecutor) ExecuteRead(_ context.Context, sqlText string, params []any) (query.ReadResult, error) {
	f.reads.Add(1)
	f.remember(sqlText, params)
	if f.err != nil {
		return query.ReadResult{}, f.err
	}
	return f.read, nil
}

func (f *fakeExecutor) ExecuteWrite(_ context.Context, sqlText string, params []any) (int64, error) {
	f.writes.Add(1)
	f.remember(sqlText, params)
	if f.err != nil {
		return 0, f.err
	}
	return f.affected, nil
}

func (f *fakeExecutor) remember(sqlText string, params []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSQL = sqlText
	f.lastParams = params
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, string, string) security.Verdict {
	return security.Verdict{Allowed: true}
}

type replyCompleter string

func (r replyCompleter) Complete(context.Context, string) (string, error) {
	return string(r), nil
}

type captureSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureSink) Record(_ context.Context, record audit.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *captureSink) only(t *testing.T) audit.Record {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(c.records))
	}
	return c.records[0]
}
