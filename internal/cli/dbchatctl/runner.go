package dbchatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	UserID     string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type requestOptions struct {
	apiKey string
	userID string
	body   []byte
}

type chatOutcome struct {
	Response       string   `json:"response"`
	Success        bool     `json:"success"`
	Kind           string   `json:"kind"`
	NeedsMoreInfo  bool     `json:"needs_more_info"`
	RequiredFields []string `json:"required_fields"`
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("dbchatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "dbchat API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	userID := fs.String("user-id", defaults.UserID, "User ID header (used when auth is disabled)")
	sessionID := fs.String("session-id", defaults.SessionID, "Session ID recorded with chat requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")
	rawJSON := fs.Bool("json", false, "Print the full JSON outcome for ask")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	opts := requestOptions{apiKey: *apiKey, userID: *userID}
	method := ""
	path := ""
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "schema":
		method, path = http.MethodGet, "/v1/schema"
	case "invalidate-schema":
		method, path = http.MethodPost, "/v1/schema/invalidate"
	case "ask":
		message := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if message == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a message")
			writeUsage(stderr)
			return 2
		}
		body, err := json.Marshal(map[string]string{"message": message, "session_id": strings.TrimSpace(*sessionID)})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
		method, path, opts.body = http.MethodPost, "/v1/chat", body
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if command == "ask" && !*rawJSON {
		return printOutcome(stdout, stderr, responseBody)
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

// printOutcome writes the rendered chat message. A failed outcome exits 1
// unless it is only asking for more information.
func printOutcome(stdout, stderr io.Writer, raw []byte) int {
	var outcome chatOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode chat outcome: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, outcome.Response)
	if outcome.Success || outcome.NeedsMoreInfo {
		return 0
	}
	return 1
}

func doRequest(ctx context.Context, client *http.Client, method, url string, opts requestOptions) (int, []byte, error) {
	var body io.Reader
	if opts.body != nil {
		body = bytes.NewReader(opts.body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if opts.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(opts.apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(opts.apiKey))
	}
	if strings.TrimSpace(opts.userID) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(opts.userID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: dbchatctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health              GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready               GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema              GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  invalidate-schema   POST /v1/schema/invalidate")
	_, _ = fmt.Fprintln(w, "  ask <message...>    POST /v1/chat")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
