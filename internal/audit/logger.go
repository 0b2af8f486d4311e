package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/securacv/btctl/internal/auth"
	"github.com/securacv/btctl/internal/command"
)

// anonymousUser marks entries from unauthenticated contexts (auth
// disabled, or internal maintenance actions).
const anonymousUser = "anonymous"

// Entry is one line of the audit trail (Architecture §7.3).
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	User      string                 `json:"user"`
	Action    string                 `json:"action"`
	Device    string                 `json:"device,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code,omitempty"`
	LatencyMs int64                  `json:"latencyMs"`
}

type contextKey string

// paramsKey carries the request parameters a handler wants recorded
// alongside the command's audit entry.
const paramsKey contextKey = "auditParams"

// WithParams returns a context whose audit entries carry params.
func WithParams(ctx context.Context, params map[string]interface{}) context.Context {
	if len(params) == 0 {
		return ctx
	}
	return context.WithValue(ctx, paramsKey, params)
}

func paramsFromContext(ctx context.Context) map[string]interface{} {
	params, _ := ctx.Value(paramsKey).(map[string]interface{})
	return params
}

// Logger appends one JSONL record per command to the audit trail.
// Writes are synchronous and fsynced: a crash may lose the command's
// effect but not the record of an already-acknowledged one.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
}

var _ command.AuditLogger = (*Logger)(nil)

// NewLogger opens (creating if needed) logDir/audit.jsonl for append.
func NewLogger(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(logDir, "audit.jsonl")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
	}, nil
}

// LogAction records one command. result is either SUCCESS or the
// normalized error code the command failed with.
func (l *Logger) LogAction(ctx context.Context, action, device, result string, latency time.Duration) {
	outcome, code := "success", ""
	if result != "SUCCESS" {
		outcome, code = "error", result
	}

	l.writeEntry(Entry{
		Timestamp: time.Now().UTC(),
		User:      userFromContext(ctx),
		Action:    action,
		Device:    device,
		Params:    paramsFromContext(ctx),
		Outcome:   outcome,
		Code:      code,
		LatencyMs: latency.Milliseconds(),
	})
}

func (l *Logger) writeEntry(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		log.Printf("audit: failed to marshal entry: %v", err)
		return
	}

	if _, err := l.file.Write(append(jsonData, '\n')); err != nil {
		log.Printf("audit: failed to write entry: %v", err)
		return
	}
	if err := l.file.Sync(); err != nil {
		log.Printf("audit: failed to sync: %v", err)
	}
}

func userFromContext(ctx context.Context) string {
	if subject := auth.SubjectFromContext(ctx); subject != "" {
		return subject
	}
	return anonymousUser
}

// Close closes the underlying file. Further LogAction calls are
// silently dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// FilePath returns the path of the active audit file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Rotate renames the active file with a timestamp suffix and starts a
// fresh one. Intended for an external scheduler; the daemon never
// rotates on its own.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		l.file = nil
	}

	rotated := fmt.Sprintf("%s.%s", l.filePath, time.Now().Format("20060102-150405"))
	if err := os.Rename(l.filePath, rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}
	l.file = file
	return nil
}
