package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rootsploit/voyage/internal/logger"
)

// Level is the severity of a scan log entry
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// ParseLevel converts a level name, defaulting to debug for unknown input
func ParseLevel(s string) Level {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; ok {
		return l
	}
	return LevelDebug
}

// AtLeast reports whether l is as severe as threshold
func (l Level) AtLeast(threshold Level) bool {
	return levelRank[l] >= levelRank[threshold]
}

// levelsFrom returns threshold and every more severe level
func levelsFrom(threshold Level) []any {
	var out []any
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		if l.AtLeast(threshold) {
			out = append(out, string(l))
		}
	}
	return out
}

// LogEntry is one append-only scan log row
type LogEntry struct {
	ID          int64     `db:"id" json:"id"`
	ScanID      string    `db:"scan_id" json:"scan_id"`
	Level       Level     `db:"level" json:"level"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// InsertLog appends a log entry for scanID
func (s *Store) InsertLog(ctx context.Context, scanID string, level Level, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (scan_id, level, description) VALUES (?, ?, ?)`,
		scanID, string(level), description)
	if err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

// RecentLogs returns up to limit entries at or above threshold, newest first
func (s *Store) RecentLogs(ctx context.Context, scanID string, threshold Level, limit int) ([]LogEntry, error) {
	levels := levelsFrom(threshold)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(levels)), ", ")
	args := append([]any{scanID}, levels...)
	args = append(args, limit)

	entries := []LogEntry{}
	err := s.db.SelectContext(ctx, &entries,
		`SELECT id, scan_id, level, description, created_at FROM logs
		WHERE scan_id = ? AND level IN (`+placeholders+`)
		ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return entries, nil
}

// ScanLogger writes scan log entries to the store and mirrors them to the
// process logger. Entries below the configured minimum are dropped.
type ScanLogger struct {
	store  *Store
	scanID string
	min    Level
	log    logger.Logger
}

// NewScanLogger creates a ScanLogger bound to one scan
func NewScanLogger(store *Store, scanID string, threshold Level, log logger.Logger) *ScanLogger {
	if log == nil {
		log = logger.NewNop()
	}
	return &ScanLogger{
		store:  store,
		scanID: scanID,
		min:    threshold,
		log:    log.With(logger.String("scan_id", scanID)),
	}
}

// Log persists a formatted entry. Persistence failures are reported to the
// process logger only; a log write never fails the caller.
func (l *ScanLogger) Log(ctx context.Context, level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case LevelError:
		l.log.Error(msg)
	case LevelWarn:
		l.log.Warn(msg)
	case LevelInfo:
		l.log.Info(msg)
	default:
		l.log.Debug(msg)
	}

	if !level.AtLeast(l.min) {
		return
	}
	// Logs written while shutting down still matter for the next run
	if err := l.store.InsertLog(context.WithoutCancel(ctx), l.scanID, level, msg); err != nil {
		l.log.Error("scan log write failed", logger.Err(err))
	}
}

func (l *ScanLogger) Debug(ctx context.Context, format string, args ...any) {
	l.Log(ctx, LevelDebug, format, args...)
}

func (l *ScanLogger) Info(ctx context.Context, format string, args ...any) {
	l.Log(ctx, LevelInfo, format, args...)
}

func (l *ScanLogger) Warn(ctx context.Context, format string, args ...any) {
	l.Log(ctx, LevelWarn, format, args...)
}

func (l *ScanLogger) Error(ctx context.Context, format string, args ...any) {
	l.Log(ctx, LevelError, format, args...)
}
