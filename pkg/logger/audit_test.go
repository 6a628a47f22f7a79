package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedAudit(t *testing.T) (*AuditLogger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	al.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return al, buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestAuditLogger_LogAuthAttempt_Failure(t *testing.T) {
	al, buf := newBufferedAudit(t)

	al.LogAuthAttempt(context.Background(), AuditEvent{
		EventType:     EventLoginFailed,
		AccountID:     "acc-1",
		IPAddress:     "10.0.0.1",
		FailureReason: "invalid_credentials",
	})

	rec := decode(t, buf)
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "auth", rec["audit_type"])
	assert.Equal(t, EventLoginFailed, rec["event_type"])
	assert.Equal(t, "acc-1", rec["account_id"])
	assert.Equal(t, "invalid_credentials", rec["failure_reason"])
	assert.Equal(t, "2026-03-01T10:00:00Z", rec["timestamp"])
	assert.NotContains(t, rec, "session_id")
}

func TestAuditLogger_LogSessionEvent_Metadata(t *testing.T) {
	al, buf := newBufferedAudit(t)

	al.LogSessionEvent(context.Background(), AuditEvent{
		EventType: EventSessionEvicted,
		AccountID: "acc-1",
		SessionID: "sess-1",
		Success:   true,
		Metadata:  map[string]string{"reason": "evicted"},
	})

	rec := decode(t, buf)
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "session", rec["audit_type"])
	assert.Equal(t, "sess-1", rec["session_id"])
	assert.Equal(t, "evicted", rec["reason"])
}

func TestAuditLogger_NilIsNoop(t *testing.T) {
	var al *AuditLogger
	assert.NotPanics(t, func() {
		al.LogAuthAttempt(context.Background(), AuditEvent{EventType: EventLoginSuccess})
	})
}

func TestMaskLoginKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a", "*"},
		{"ab", "**"},
		{"alice", "a***e"},
		{"EMP0042", "E*****2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskLoginKey(tt.in), tt.in)
	}
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("refresh_token=abc"))
	assert.True(t, SanitizeQueryString("Login_Key=alice"))
	assert.False(t, SanitizeQueryString("page=2&sort=desc"))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("ip", "10.0.0.1", "production").Value.String())
	assert.Equal(t, "10.0.0.1", RedactedAttr("ip", "10.0.0.1", "development").Value.String())
}
