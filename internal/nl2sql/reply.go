package nl2sql

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	statusSuccess     = "SUCCESS"
	statusMissingInfo = "MISSING_INFO"

	unparseableReply = "Could not understand the request format"
	needMoreInfo     = "I need more information to complete this request."
)

type replyEnvelope struct {
	Status        string          `json:"status"`
	Intent        string          `json:"intent"`
	TableName     string          `json:"tableName"`
	SQL           string          `json:"sql"`
	Parameters    json.RawMessage `json:"parameters"`
	HumanResponse string          `json:"humanResponse"`
	MissingFields json.RawMessage `json:"missingFields"`
	ErrorMessage  string          `json:"errorMessage"`
}

// ParseReply maps a raw model reply to an Operation. It never fails: replies
// that cannot be decoded fall back to a lexical scan.
func ParseReply(raw string) Operation {
	op, _ := parseReply(raw)
	return op
}

func parseReply(raw string) (Operation, bool) {
	cleaned := extractJSONObject(raw)

	var envelope replyEnvelope
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil || strings.TrimSpace(envelope.Status) == "" {
		return fallbackOperation(raw), true
	}

	switch strings.TrimSpace(envelope.Status) {
	case statusSuccess:
		return Actionable{
			Intent:  strings.ToUpper(strings.TrimSpace(envelope.Intent)),
			Table:   strings.TrimSpace(envelope.TableName),
			SQL:     strings.TrimSpace(envelope.SQL),
			Params:  decodeParams(rawArray(envelope.Parameters)),
			Message: envelope.HumanResponse,
		}, false
	case statusMissingInfo:
		return NeedsInfo{
			Intent:        strings.ToUpper(strings.TrimSpace(envelope.Intent)),
			Table:         strings.TrimSpace(envelope.TableName),
			MissingFields: decodeStrings(rawArray(envelope.MissingFields)),
			Message:       envelope.HumanResponse,
		}, false
	default:
		return Invalid{ErrorMessage: envelope.ErrorMessage}, false
	}
}

func extractJSONObject(raw string) string {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		return cleaned[start : end+1]
	}
	return cleaned
}

func fallbackOperation(raw string) Operation {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "missing") || strings.Contains(lower, "need") {
		return NeedsInfo{MissingFields: []string{}, Message: needMoreInfo}
	}
	return Invalid{ErrorMessage: unparseableReply}
}

// rawArray returns the elements of a JSON array, or nil for any other value.
func rawArray(raw json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// decodeParams keeps strings, integers and floats; any other JSON value is
// bound as its JSON text.
func decodeParams(raw []json.RawMessage) []any {
	params := make([]any, 0, len(raw))
	for _, item := range raw {
		decoder := json.NewDecoder(bytes.NewReader(item))
		decoder.UseNumber()
		var value any
		if err := decoder.Decode(&value); err != nil {
			params = append(params, string(item))
			continue
		}
		switch typed := value.(type) {
		case string:
			params = append(params, typed)
		case json.Number:
			if n, err := strconv.ParseInt(typed.String(), 10, 64); err == nil {
				params = append(params, n)
			} else if f, err := typed.Float64(); err == nil {
				params = append(params, f)
			} else {
				params = append(params, typed.String())
			}
		default:
			params = append(params, strings.TrimSpace(string(item)))
		}
	}
	return params
}

func decodeStrings(raw []json.RawMessage) []string {
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		var value string
		if err := json.Unmarshal(item, &value); err == nil {
			values = append(values, value)
			continue
		}
		values = append(values, strings.TrimSpace(string(item)))
	}
	return values
}
