// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/brad07/threatscope/pkg/config"
	"github.com/brad07/threatscope/pkg/redact"
)

// redactedKeys are attribute keys whose values never reach the log output.
var redactedKeys = []string{"secret", "password", "token", "authorization", "api_key"}

// New creates a logger writing to w (stderr when nil) in the configured
// format and level.
func New(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	secrets := redact.NewRedactor()
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key) {
				a.Value = slog.StringValue("[REDACTED]")
				return a
			}
			return maskSecrets(secrets, a)
		},
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

// ParseLevel converts debug, info, warn or error into a slog level. An
// empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// maskSecrets replaces credentials embedded in string and error values,
// such as a webhook URL with a token in its query or a DSN in an error.
func maskSecrets(r *redact.Redactor, a slog.Attr) slog.Attr {
	var v string
	switch a.Value.Kind() {
	case slog.KindString:
		v = a.Value.String()
	case slog.KindAny:
		err, ok := a.Value.Any().(error)
		if !ok {
			return a
		}
		v = err.Error()
	default:
		return a
	}
	if !r.Contains(v, redact.CategorySecrets) {
		return a
	}
	a.Value = slog.StringValue(r.ApplyCategory(v, redact.CategorySecrets).Redacted)
	return a
}

func shouldRedact(key string) bool {
	key = strings.ToLower(key)
	for _, k := range redactedKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}
