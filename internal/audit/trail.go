// Package audit records security-relevant events to two independent sinks:
// the audit_log database table and a local append-only JSON-line file backed
// by a tamper-evidence digest. Both sinks are best-effort by contract; a
// failing audit write must never fail the request that triggered it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openfacil/facilityhub/internal/models"
	"github.com/openfacil/facilityhub/internal/repository"
	"github.com/openfacil/facilityhub/internal/security"
)

const (
	logFileName    = "audit.log"
	digestFileName = "audit.log.sha256"
)

// Trail is the dual-sink audit recorder.
//
// The digest file holds a single SHA-256 over the log's current contents,
// recomputed after every append. That proves only "the log equals this hash
// now" - enough to catch wholesale truncation or replacement between two
// checks, not a verifiable append chain. Known limitation, kept on purpose:
// a running hash chain would change the verification semantics operators
// already script against.
type Trail struct {
	repo   *repository.AuditRepository
	logger *security.Logger

	logPath    string
	digestPath string

	// mu serializes append+digest within this process; an exclusive flock
	// on the log file extends the same guarantee across processes sharing
	// the data directory.
	mu sync.Mutex

	now func() time.Time
}

// fileEvent is the JSON-line shape written to the local sink.
type fileEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	ActorID    *int      `json:"actor_id,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   *int      `json:"entity_id,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Details    string    `json:"details,omitempty"`
}

// NewTrail creates a Trail writing its file sink under dataDir.
func NewTrail(repo *repository.AuditRepository, dataDir string, logger *security.Logger) *Trail {
	return &Trail{
		repo:       repo,
		logger:     logger,
		logPath:    filepath.Join(dataDir, logFileName),
		digestPath: filepath.Join(dataDir, digestFileName),
		now:        time.Now,
	}
}

// Record writes one audit event to both sinks. It never returns an error:
// each sink failure is logged to the security log and swallowed, and one
// sink failing does not stop the other.
func (t *Trail) Record(ctx context.Context, actorID *int, action, entityType string, entityID *int, ip, userAgent string, details map[string]interface{}) {
	detailJSON := ""
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			detailJSON = string(raw)
		}
	}

	event := &models.AuditEvent{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Details:    detailJSON,
	}

	if err := t.repo.Log(ctx, event); err != nil {
		t.logger.SecurityEvent(security.EventAuditSinkFailure, actorID, "", ip, userAgent,
			map[string]interface{}{"sink": "database", "action": action, "error": err.Error()})
	}

	if err := t.appendLine(fileEvent{
		Timestamp:  t.now().UTC(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Details:    detailJSON,
	}); err != nil {
		t.logger.SecurityEvent(security.EventAuditSinkFailure, actorID, "", ip, userAgent,
			map[string]interface{}{"sink": "file", "action": action, "error": err.Error()})
	}
}

// appendLine appends one JSON line to the log file and rewrites the digest.
// The log file is flock'd exclusively for the whole append+digest pair, so
// writers in other processes cannot interleave lines or race the digest.
func (t *Trail) appendLine(event fileEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.logPath), 0o750); err != nil {
		return err
	}

	f, err := os.OpenFile(t.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	// Close releases the lock with the descriptor.

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	return t.rewriteDigest()
}

// rewriteDigest recomputes the whole-file SHA-256 and overwrites the digest
// file. O(n) per event; acceptable at portal audit volumes.
func (t *Trail) rewriteDigest() error {
	contents, err := os.ReadFile(t.logPath)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(contents)
	return os.WriteFile(t.digestPath, []byte(hex.EncodeToString(sum[:])+"\n"), 0o640)
}

// VerifyDigest recomputes the log digest and compares it to the stored one.
// Used by an operator check, not the request path.
func (t *Trail) VerifyDigest() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.logPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	// A shared lock keeps an in-flight append in another process from
	// landing between the two reads.
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return false, err
	}

	contents, err := io.ReadAll(f)
	if err != nil {
		return false, err
	}
	stored, err := os.ReadFile(t.digestPath)
	if err != nil {
		return false, err
	}

	sum := sha256.Sum256(contents)
	expected := hex.EncodeToString(sum[:])
	actual := string(stored)
	// Tolerate the trailing newline the writer adds.
	if len(actual) > 0 && actual[len(actual)-1] == '\n' {
		actual = actual[:len(actual)-1]
	}
	return expected == actual, nil
}
