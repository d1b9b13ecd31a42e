package security

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/duckmesh/dbchat/internal/observability"
)

const (
	ReasonEmptySQL         = "empty_sql"
	ReasonIntentNotAllowed = "intent_not_allowed"
)

type Verdict struct {
	Allowed bool
	Reason  string
}

type dangerousPattern struct {
	name string
	re   *regexp.Regexp
	// unlessWhere exempts statements with a WHERE keyword anywhere in the text.
	unlessWhere bool
}

var (
	wherePattern = regexp.MustCompile(`(?i)\bWHERE\b`)

	dangerousPatterns = []dangerousPattern{
		{name: "drop_table", re: regexp.MustCompile(`(?i)\bDROP\s+TABLE\b`)},
		{name: "truncate", re: regexp.MustCompile(`(?i)\bTRUNCATE\b`)},
		// Anything may sit between the keywords: aliases, ONLY, quoted names
		// and comments all reach the same full-table change.
		{name: "delete_without_where", re: regexp.MustCompile(`(?is)\bDELETE\b.*?\bFROM\b`), unlessWhere: true},
		{name: "update_without_where", re: regexp.MustCompile(`(?is)\bUPDATE\b.*?\bSET\b`), unlessWhere: true},
		{name: "alter_table", re: regexp.MustCompile(`(?i)\bALTER\s+TABLE\b`)},
		{name: "grant", re: regexp.MustCompile(`(?i)\bGRANT\b`)},
		{name: "revoke", re: regexp.MustCompile(`(?i)\bREVOKE\b`)},
		{name: "chained_drop", re: regexp.MustCompile(`(?i);\s*DROP\b`)},
		{name: "chained_delete", re: regexp.MustCompile(`(?i);\s*DELETE\b`)},
		{name: "exec", re: regexp.MustCompile(`(?i)\bEXEC\b`)},
		{name: "execute", re: regexp.MustCompile(`(?i)\bEXECUTE\b`)},
	}

	// Substring net over the upper-cased text. It rejects identifiers such as
	// grant_date or dropped_at as well.
	blockedKeywords = []string{"DROP", "TRUNCATE", "ALTER", "GRANT", "REVOKE", "EXEC", "EXECUTE"}

	allowedIntents = map[string]struct{}{
		"CREATE": {},
		"READ":   {},
		"UPDATE": {},
		"DELETE": {},
	}
)

// Gate decides whether model-generated SQL may reach the database. It holds
// no mutable state and is safe for concurrent use.
type Gate struct {
	Logger *slog.Logger
}

func NewGate(logger *slog.Logger) *Gate {
	return &Gate{Logger: logger}
}

func (g *Gate) IsIntentAllowed(intent string) bool {
	_, ok := allowedIntents[strings.ToUpper(strings.TrimSpace(intent))]
	return ok
}

func (g *Gate) IsQuerySafe(sqlText string) bool {
	verdict := checkSQL(sqlText)
	if !verdict.Allowed {
		g.logBlocked(context.Background(), "", sqlText, verdict.Reason)
	}
	return verdict.Allowed
}

// Authorize runs both checks for an interpreted operation. LIST and COUNT are
// not part of the intent allow-list and only go through the SQL check.
func (g *Gate) Authorize(ctx context.Context, intent, sqlText string) Verdict {
	normalized := strings.ToUpper(strings.TrimSpace(intent))
	switch normalized {
	case "LIST", "COUNT":
	default:
		if !g.IsIntentAllowed(normalized) {
			return g.deny(ctx, intent, sqlText, ReasonIntentNotAllowed)
		}
	}

	verdict := checkSQL(sqlText)
	if !verdict.Allowed {
		return g.deny(ctx, intent, sqlText, verdict.Reason)
	}
	return verdict
}

func (g *Gate) deny(ctx context.Context, intent, sqlText, reason string) Verdict {
	observability.IncrementPolicyDenial(reason)
	g.logBlocked(ctx, intent, sqlText, reason)
	return Verdict{Allowed: false, Reason: reason}
}

func (g *Gate) logBlocked(ctx context.Context, intent, sqlText, reason string) {
	if g == nil || g.Logger == nil {
		return
	}
	g.Logger.WarnContext(ctx, "statement blocked",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("intent", intent),
		slog.String("reason", reason),
		slog.String("sql", sqlText),
	)
}

func checkSQL(sqlText string) Verdict {
	if strings.TrimSpace(sqlText) == "" {
		return Verdict{Reason: ReasonEmptySQL}
	}

	hasWhere := wherePattern.MatchString(sqlText)
	for _, pattern := range dangerousPatterns {
		if pattern.unlessWhere && hasWhere {
			continue
		}
		if pattern.re.MatchString(sqlText) {
			return Verdict{Reason: "pattern:" + pattern.name}
		}
	}

	upper := strings.ToUpper(sqlText)
	for _, keyword := range blockedKeywords {
		if strings.Contains(upper, keyword) {
			return Verdict{Reason: "keyword:" + keyword}
		}
	}
	return Verdict{Allowed: true}
}
