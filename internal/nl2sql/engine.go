package nl2sql

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duckmesh/dbchat/internal/config"
	"github.com/duckmesh/dbchat/internal/observability"
)

// Engine implements Interpreter on top of a text completion model.
type Engine struct {
	Completer Completer
	Logger    *slog.Logger
}

func NewEngine(completer Completer, logger *slog.Logger) *Engine {
	return &Engine{Completer: completer, Logger: logger}
}

func (e *Engine) Interpret(ctx context.Context, req Request) (Operation, error) {
	if e.Completer == nil {
		return nil, fmt.Errorf("completer is not configured")
	}
	raw, err := e.Completer.Complete(ctx, BuildPrompt(req.Input, req.Schema))
	if err != nil {
		return nil, fmt.Errorf("complete prompt: %w", err)
	}

	op, fallback := parseReply(raw)
	if e.Logger != nil {
		traceID := observability.TraceIDFromContext(ctx)
		if fallback {
			e.Logger.WarnContext(ctx, "engine reply was not valid json, used lexical fallback",
				slog.String("trace_id", traceID),
				slog.String("reply", raw),
			)
		} else {
			e.Logger.DebugContext(ctx, "engine reply parsed",
				slog.String("trace_id", traceID),
				slog.String("reply", raw),
			)
		}
	}
	return op, nil
}

// NewCompleter builds the model client for the configured provider.
func NewCompleter(cfg config.EngineConfig) (Completer, error) {
	switch cfg.Provider {
	case config.EngineOllama:
		return NewOllamaClient(OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case config.EngineOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
