package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotClaimed is returned when an outcome is written for an item that is
// not currently in scanning state.
var ErrNotClaimed = errors.New("candidate is not claimed")

// CandidateStatus drives queue semantics
type CandidateStatus string

const (
	CandidateQueued   CandidateStatus = "queued"
	CandidateScanning CandidateStatus = "scanning"
	CandidateFound    CandidateStatus = "found"
	CandidateNotFound CandidateStatus = "not_found"
)

// SQLite caps bound parameters at 999 by default; chunks stay below that.
const (
	wordlistChunkRows = 450 // 2 params per row
	passiveChunkRows  = 300 // 3 params per row
)

// Candidate is one (subdomain, domain) pair in a scan's queue
type Candidate struct {
	ID                int64           `db:"id" json:"id"`
	Subdomain         string          `db:"subdomain" json:"subdomain"`
	Domain            string          `db:"domain" json:"domain"`
	Status            CandidateStatus `db:"status" json:"status"`
	Source            string          `db:"source" json:"source"`
	CreatedOn         time.Time       `db:"created_on" json:"created_on"`
	LastScanStartedOn *time.Time      `db:"last_scan_started_on" json:"last_scan_started_on,omitempty"`
	LastScannedOn     *time.Time      `db:"last_scanned_on" json:"last_scanned_on,omitempty"`
	Retries           int             `db:"retries" json:"retries"`
}

// FQDN returns the probe target for the candidate
func (c Candidate) FQDN() string {
	return JoinHost(c.Subdomain, c.Domain)
}

// Result is a found candidate as exported and displayed
type Result struct {
	Subdomain string `db:"subdomain" json:"subdomain"`
	Domain    string `db:"domain" json:"domain"`
	Source    string `db:"source" json:"source"`
}

// FQDN returns subdomain.domain
func (r Result) FQDN() string {
	return JoinHost(r.Subdomain, r.Domain)
}

// JoinHost joins a label and its parent domain
func JoinHost(subdomain, domain string) string {
	if subdomain == "" {
		return domain
	}
	return subdomain + "." + domain
}

// Counts aggregates a queue by status
type Counts struct {
	Found    int64 `db:"found" json:"found"`
	NotFound int64 `db:"not_found" json:"not_found"`
	Scanning int64 `db:"scanning" json:"scanning"`
	Queued   int64 `db:"queued" json:"queued"`
	Total    int64 `db:"total" json:"total"`
}

// Done reports whether every candidate reached a terminal status
func (c Counts) Done() bool {
	return c.Found+c.NotFound >= c.Total
}

// CreateQueue creates the queue table for scanID if it does not exist
func (s *Store) CreateQueue(ctx context.Context, scanID string) error {
	table, err := queueTable(scanID)
	if err != nil {
		return err
	}
	index := `"idx_` + scanID + `_status"`
	ddl := `
	CREATE TABLE IF NOT EXISTS ` + table + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subdomain TEXT NOT NULL,
		domain TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		source TEXT NOT NULL DEFAULT '',
		created_on DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_scan_started_on DATETIME,
		last_scanned_on DATETIME,
		retries INTEGER NOT NULL DEFAULT 0,
		UNIQUE(subdomain, domain)
	);
	CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + table + `(status);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create queue for %s: %w", scanID, err)
	}
	return nil
}

// DropQueue removes the queue table for scanID if present
func (s *Store) DropQueue(ctx context.Context, scanID string) error {
	table, err := queueTable(scanID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return fmt.Errorf("failed to drop queue for %s: %w", scanID, err)
	}
	return nil
}

// InsertWordlist enqueues every label under domain. Duplicates are skipped.
// Returns the number of rows actually inserted.
func (s *Store) InsertWordlist(ctx context.Context, scanID, domain string, labels []string) (int64, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return 0, err
	}

	var inserted int64
	for start := 0; start < len(labels); start += wordlistChunkRows {
		end := min(start+wordlistChunkRows, len(labels))
		chunk := labels[start:end]

		args := make([]any, 0, len(chunk)*2)
		for _, label := range chunk {
			args = append(args, label, domain)
		}
		query := `INSERT INTO ` + table + ` (subdomain, domain) VALUES ` +
			placeholders(len(chunk), "(?, ?)") +
			` ON CONFLICT(subdomain, domain) DO NOTHING`

		n, err := s.execChunk(ctx, query, args)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert wordlist chunk for %s: %w", domain, err)
		}
		inserted += n
	}
	return inserted, nil
}

// InsertPassive records passive-source hits for domain as already found,
// labelled with the source that reported them. found maps label to source.
func (s *Store) InsertPassive(ctx context.Context, scanID, domain string, found map[string]string) (int64, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return 0, err
	}

	labels := make([]string, 0, len(found))
	for label := range found {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var inserted int64
	for start := 0; start < len(labels); start += passiveChunkRows {
		end := min(start+passiveChunkRows, len(labels))
		chunk := labels[start:end]

		args := make([]any, 0, len(chunk)*3)
		for _, label := range chunk {
			args = append(args, label, domain, found[label])
		}
		query := `INSERT INTO ` + table + ` (subdomain, domain, source, status, last_scanned_on) VALUES ` +
			placeholders(len(chunk), "(?, ?, ?, 'found', CURRENT_TIMESTAMP)") +
			` ON CONFLICT(subdomain, domain) DO NOTHING`

		n, err := s.execChunk(ctx, query, args)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert passive results for %s: %w", domain, err)
		}
		inserted += n
	}
	return inserted, nil
}

// execChunk runs one multi-row insert, treating a unique violation as an
// empty insert.
func (s *Store) execChunk(ctx context.Context, query string, args []any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func placeholders(n int, group string) string {
	return strings.TrimSuffix(strings.Repeat(group+", ", n), ", ")
}

// ClaimNext atomically moves up to n queued candidates to scanning, in
// insertion order, and returns them. Two callers never receive the same row.
func (s *Store) ClaimNext(ctx context.Context, scanID string, n int) ([]Candidate, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		n = 1
	}

	claimed := []Candidate{}
	err = s.db.SelectContext(ctx, &claimed, `
		UPDATE `+table+`
		SET status = 'scanning', last_scan_started_on = CURRENT_TIMESTAMP
		WHERE id IN (
			SELECT id FROM `+table+` WHERE status = 'queued' ORDER BY id LIMIT ?
		)
		RETURNING id, subdomain, domain, status, source, retries`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to claim candidates: %w", err)
	}
	// RETURNING order is unspecified
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })
	return claimed, nil
}

// Complete writes the terminal outcome of a claimed candidate in one update.
// An empty source keeps the existing label.
func (s *Store) Complete(ctx context.Context, scanID string, id int64, status CandidateStatus, source string) error {
	table, err := queueTable(scanID)
	if err != nil {
		return err
	}
	if status != CandidateFound && status != CandidateNotFound {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = ?, source = COALESCE(NULLIF(?, ''), source), last_scanned_on = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'scanning'`, string(status), source, id)
	if err != nil {
		return fmt.Errorf("failed to complete candidate %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotClaimed, id)
	}
	return nil
}

// Release hands claimed candidates back to the queue untouched
func (s *Store) Release(ctx context.Context, scanID string, ids []int64) (int64, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`
		UPDATE `+table+`
		SET status = 'queued', last_scan_started_on = NULL
		WHERE status = 'scanning' AND id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build release query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to release candidates: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Requeue returns a claimed candidate to the queue for another attempt and
// bumps its retry counter.
func (s *Store) Requeue(ctx context.Context, scanID string, id int64) error {
	table, err := queueTable(scanID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = 'queued', retries = retries + 1, last_scan_started_on = NULL
		WHERE id = ? AND status = 'scanning'`, id)
	if err != nil {
		return fmt.Errorf("failed to requeue candidate %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotClaimed, id)
	}
	return nil
}

// ResetHalted moves every scanning candidate back to queued. Only safe
// before any worker starts.
func (s *Store) ResetHalted(ctx context.Context, scanID string) (int64, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = 'queued', last_scan_started_on = NULL
		WHERE status = 'scanning'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset halted candidates: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountByStatus counts candidates in one status
func (s *Store) CountByStatus(ctx context.Context, scanID string, status CandidateStatus) (int64, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+table+` WHERE status = ?`, string(status)); err != nil {
		return 0, fmt.Errorf("failed to count %s candidates: %w", status, err)
	}
	return n, nil
}

// Counts returns per-status totals for the queue
func (s *Store) Counts(ctx context.Context, scanID string) (Counts, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	err = s.db.GetContext(ctx, &c, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'found' THEN 1 ELSE 0 END), 0) AS found,
			COALESCE(SUM(CASE WHEN status = 'not_found' THEN 1 ELSE 0 END), 0) AS not_found,
			COALESCE(SUM(CASE WHEN status = 'scanning' THEN 1 ELSE 0 END), 0) AS scanning,
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0) AS queued,
			COUNT(*) AS total
		FROM `+table)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count candidates: %w", err)
	}
	return c, nil
}

// FoundResults returns every found candidate in insertion order
func (s *Store) FoundResults(ctx context.Context, scanID string) ([]Result, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return nil, err
	}
	results := []Result{}
	err = s.db.SelectContext(ctx, &results,
		`SELECT subdomain, domain, source FROM `+table+` WHERE status = 'found' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	return results, nil
}

// ListCandidates pages through the queue, optionally filtered by status
func (s *Store) ListCandidates(ctx context.Context, scanID string, status CandidateStatus, limit, offset int) ([]Candidate, error) {
	table, err := queueTable(scanID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, subdomain, domain, status, source, created_on,
		last_scan_started_on, last_scanned_on, retries FROM ` + table
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	candidates := []Candidate{}
	if err := s.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return candidates, nil
}
