package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/apollo-xwb/paysecure/pkg/logger"
)

// Mismatch describes how a request differs from the binding of its session
type Mismatch int

const (
	MismatchNone Mismatch = iota
	MismatchIPChanged
	MismatchDeviceChanged
)

func (m Mismatch) String() string {
	switch m {
	case MismatchIPChanged:
		return "ip_changed"
	case MismatchDeviceChanged:
		return "device_changed"
	default:
		return "none"
	}
}

// BindResult is the outcome of a binding check
type BindResult struct {
	Mismatch Mismatch
}

// OK reports whether the session may be used for the request
func (r BindResult) OK() bool {
	return r.Mismatch != MismatchIPChanged
}

// ErrAlreadyBound is returned when Bind is called on a session that already carries a binding
var ErrAlreadyBound = errors.New("session binding is immutable")

// SessionRevoker deactivates a session. Implemented by the session manager.
type SessionRevoker interface {
	Revoke(ctx context.Context, sessionID, reason string) error
}

// DeviceAnomaly is a recorded device fingerprint change on a live session
type DeviceAnomaly struct {
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id"`
	Expected  string    `json:"expected"`
	Observed  string    `json:"observed"`
	IPAddress string    `json:"ip_address"`
	At        time.Time `json:"at"`
}

// AnomalyRecorder stores advisory device changes for monitoring
type AnomalyRecorder interface {
	RecordDeviceChange(ctx context.Context, anomaly DeviceAnomaly) error
}

// AnomalyCounter is implemented by recorders that can report per-session totals
type AnomalyCounter interface {
	CountForSession(ctx context.Context, sessionID string) (int64, error)
}

// SessionBinder ties a session to the IP address and device fingerprint it was created from.
// An IP change is fatal to the session. A device change is only recorded.
type SessionBinder struct {
	revoker  SessionRevoker
	recorder AnomalyRecorder
	audit    *logger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionBinder creates a binder. recorder may be nil, in which case device changes are only logged.
func NewSessionBinder(revoker SessionRevoker, recorder AnomalyRecorder, audit *logger.AuditLogger, log *slog.Logger) *SessionBinder {
	if log == nil {
		log = slog.Default()
	}
	return &SessionBinder{
		revoker:  revoker,
		recorder: recorder,
		audit:    audit,
		logger:   log,
		now:      time.Now,
	}
}

// Bind stores ip and device on a session that has not been bound yet
func (b *SessionBinder) Bind(session *models.Session, ip, device string) error {
	if session.IPAddress != "" || session.DeviceFingerprint != "" {
		return ErrAlreadyBound
	}
	session.IPAddress = ip
	session.DeviceFingerprint = device
	return nil
}

// Check compares a request against the session binding.
// On an IP mismatch the session is revoked before ErrSessionNotFound is returned.
func (b *SessionBinder) Check(ctx context.Context, session *models.Session, ip, device string) (BindResult, error) {
	if !sameIP(session.IPAddress, ip) {
		if err := b.revoker.Revoke(ctx, session.ID, models.RevokeReasonIPMismatch); err != nil {
			return BindResult{Mismatch: MismatchIPChanged}, fmt.Errorf("failed to revoke session on ip mismatch: %w", err)
		}
		b.audit.LogSessionEvent(ctx, logger.AuditEvent{
			EventType:     logger.EventIPMismatch,
			AccountID:     session.AccountID,
			SessionID:     session.ID,
			IPAddress:     ip,
			FailureReason: models.RevokeReasonIPMismatch,
			Metadata:      map[string]string{"bound_ip": session.IPAddress},
		})
		return BindResult{Mismatch: MismatchIPChanged}, models.ErrSessionNotFound
	}

	if session.DeviceFingerprint != device {
		b.recordDeviceChange(ctx, session, ip, device)
		return BindResult{Mismatch: MismatchDeviceChanged}, nil
	}

	return BindResult{Mismatch: MismatchNone}, nil
}

func (b *SessionBinder) recordDeviceChange(ctx context.Context, session *models.Session, ip, device string) {
	b.audit.LogSessionEvent(ctx, logger.AuditEvent{
		EventType: logger.EventDeviceChanged,
		AccountID: session.AccountID,
		SessionID: session.ID,
		IPAddress: ip,
		Success:   true,
	})

	if b.recorder == nil {
		return
	}
	err := b.recorder.RecordDeviceChange(ctx, DeviceAnomaly{
		SessionID: session.ID,
		AccountID: session.AccountID,
		Expected:  session.DeviceFingerprint,
		Observed:  device,
		IPAddress: ip,
		At:        b.now(),
	})
	if err != nil {
		// advisory only, never fails the request
		b.logger.Warn("failed to record device anomaly", "session_id", session.ID, "error", err)
	}
}

// DeviceChanges returns how many device changes were recorded on a session.
// It is zero when the recorder keeps no counts or cannot be reached.
func (b *SessionBinder) DeviceChanges(ctx context.Context, sessionID string) int64 {
	counter, ok := b.recorder.(AnomalyCounter)
	if !ok {
		return 0
	}
	n, err := counter.CountForSession(ctx, sessionID)
	if err != nil {
		b.logger.Warn("failed to read device anomaly count", "session_id", sessionID, "error", err)
		return 0
	}
	return n
}

// sameIP compares two addresses, treating IPv4-mapped IPv6 forms as equal.
// An empty value on either side never matches.
func sameIP(bound, observed string) bool {
	if bound == "" || observed == "" {
		return false
	}
	if bound == observed {
		return true
	}
	a, errA := netip.ParseAddr(bound)
	o, errO := netip.ParseAddr(observed)
	if errA != nil || errO != nil {
		return false
	}
	return a.Unmap() == o.Unmap()
}
