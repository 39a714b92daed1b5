// Package security - structured security logging.
// Every security-relevant decision (logins, lockouts, CSRF violations,
// rate-limit hits, session evictions) is emitted as one JSON line so a log
// shipper can forward it to a SIEM without parsing free text.
package security

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel identifies the severity of a log entry.
type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
	LogLevelSecurity LogLevel = "SECURITY"
)

// EventType identifies the kind of security event being recorded.
type EventType string

const (
	EventLoginSuccess        EventType = "LOGIN_SUCCESS"
	EventLoginFailure        EventType = "LOGIN_FAILURE"
	EventLogout              EventType = "LOGOUT"
	EventAccountLocked       EventType = "ACCOUNT_LOCKED"
	EventRateLimitExceeded   EventType = "RATE_LIMIT_EXCEEDED"
	EventRateLimitWarning    EventType = "RATE_LIMIT_WARNING"
	EventCSRFViolation       EventType = "CSRF_VIOLATION"
	EventRequestBlocked      EventType = "REQUEST_BLOCKED"
	EventSessionMismatch     EventType = "SESSION_FINGERPRINT_MISMATCH"
	EventSessionEvicted      EventType = "SESSION_EVICTED"
	EventSessionRotated      EventType = "SESSION_ROTATED"
	EventStepUpIssued        EventType = "STEPUP_ISSUED"
	EventStepUpRejected      EventType = "STEPUP_REJECTED"
	EventUnauthorizedAccess  EventType = "UNAUTHORIZED_ACCESS"
	EventCapabilityAccess    EventType = "CAPABILITY_ACCESS"
	EventPolicyConfigError   EventType = "POLICY_CONFIG_ERROR"
	EventAuditSinkFailure    EventType = "AUDIT_SINK_FAILURE"
	EventWeakKeyMaterial     EventType = "WEAK_KEY_MATERIAL"
	EventSuspiciousUserAgent EventType = "SUSPICIOUS_USER_AGENT"
)

// Logger writes structured security log lines through a zap core.
type Logger struct {
	zl *zap.Logger
}

// NewLogger returns a Logger emitting JSON to stderr.
func NewLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// NewProduction only fails on invalid sink paths; fall back to a
		// no-op rather than refusing to start.
		zl = zap.NewNop()
	}
	return &Logger{zl: zl}
}

// NewLoggerWithCore returns a Logger over the supplied core. Used by tests
// to capture output with zap's observer.
func NewLoggerWithCore(core zapcore.Core) *Logger {
	return &Logger{zl: zap.New(core)}
}

// Info records an informational message.
func (l *Logger) Info(message string) {
	l.zl.Info(message, zap.String("level_name", string(LogLevelInfo)))
}

// Warn records a warning.
func (l *Logger) Warn(message string) {
	l.zl.Warn(message, zap.String("level_name", string(LogLevelWarning)))
}

// Error records an error with its cause, if any.
func (l *Logger) Error(message string, err error) {
	fields := []zap.Field{zap.String("level_name", string(LogLevelError))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.zl.Error(message, fields...)
}

// Critical records a fatal-severity condition without exiting the process.
func (l *Logger) Critical(message string, err error) {
	fields := []zap.Field{zap.String("level_name", string(LogLevelCritical))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.zl.Error(message, fields...)
}

// SecurityEvent records a typed security event with actor and client context.
// actorID is nil for unauthenticated or system actions.
func (l *Logger) SecurityEvent(event EventType, actorID *int, actorEmail, ipAddress, userAgent string, extra map[string]interface{}) {
	fields := []zap.Field{
		zap.String("level_name", string(LogLevelSecurity)),
		zap.String("event_type", string(event)),
		zap.String("ip_address", ipAddress),
		zap.String("user_agent", userAgent),
	}
	if actorID != nil {
		fields = append(fields, zap.Int("actor_id", *actorID))
	}
	if actorEmail != "" {
		fields = append(fields, zap.String("actor_email", actorEmail))
	}
	if len(extra) > 0 {
		fields = append(fields, zap.Any("extra", extra))
	}
	l.zl.Warn(string(event), fields...)
}

// HTTPRequest records one request/response pair with timing. requestID ties
// the line to the X-Request-ID header handed to the client.
func (l *Logger) HTTPRequest(requestID, method, path string, status int, latencyMs int64, ipAddress, userAgent string) {
	l.zl.Info("http_request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Int64("latency_ms", latencyMs),
		zap.String("ip_address", ipAddress),
		zap.String("user_agent", userAgent),
	)
}

// Sync flushes buffered log lines. Called on shutdown.
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}
