// Package audit emits the authentication event trail. Events go to stdout
// as structured JSON with a log_type marker so aggregators can route them
// to a separate index from application logs.
package audit

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventLogin          EventType = "LOGIN"
	EventLoginError     EventType = "LOGIN_ERROR"
	EventLogout         EventType = "LOGOUT"
	EventCodeToToken    EventType = "CODE_TO_TOKEN"
	EventRefresh        EventType = "REFRESH"
	EventRefreshError   EventType = "REFRESH_ERROR"
	EventIntrospect     EventType = "INTROSPECT"
	EventRevoke         EventType = "REVOKE"
	EventFederatedLogin EventType = "FEDERATED_LOGIN"
	EventClientLogin    EventType = "CLIENT_LOGIN"
)

// Event carries the who/where of an authentication action. Empty fields are
// omitted from the output.
type Event struct {
	Type      EventType
	RealmName string
	ClientID  string
	UserID    string
	SessionID string
	IPAddress string
	Details   map[string]string
}

// Logger is the contract for the immutable event trail.
type Logger interface {
	Log(ctx context.Context, e Event)
}

// JSONLogger writes events with a dedicated slog handler so formatting is
// independent of the main application logger.
type JSONLogger struct {
	logger *slog.Logger
}

func NewJSONLogger() *JSONLogger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &JSONLogger{logger: slog.New(handler)}
}

func (l *JSONLogger) Log(ctx context.Context, e Event) {
	fields := []any{
		slog.String("log_type", "AUDIT_TRAIL"),
		slog.String("event", string(e.Type)),
		slog.Time("timestamp_utc", time.Now().UTC()),
	}
	if e.RealmName != "" {
		fields = append(fields, slog.String("realm", e.RealmName))
	}
	if e.ClientID != "" {
		fields = append(fields, slog.String("client_id", e.ClientID))
	}
	if e.UserID != "" {
		fields = append(fields, slog.String("user_id", e.UserID))
	}
	if e.SessionID != "" {
		fields = append(fields, slog.String("session_id", e.SessionID))
	}
	if e.IPAddress != "" {
		fields = append(fields, slog.String("ip_address", e.IPAddress))
	}
	for k, v := range e.Details {
		fields = append(fields, slog.String("detail_"+k, v))
	}

	l.logger.InfoContext(ctx, "audit_event", fields...)
}

// NopLogger discards events; used in tests.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, e Event) {}
