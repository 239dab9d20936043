package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrScanNotFound is returned when no scan matches the lookup
var ErrScanNotFound = errors.New("scan not found")

// ScanStatus is the persisted lifecycle position of a scan
type ScanStatus string

// Lifecycle states, in order
const (
	StatusScanCreated             ScanStatus = "scan_created"
	StatusWorkloadTableCreated    ScanStatus = "workload_table_created"
	StatusPassiveResultsPopulated ScanStatus = "passive_results_populated"
	StatusBasicWorkloadPopulated  ScanStatus = "basic_workload_populated"
	StatusRunning                 ScanStatus = "running"
	StatusCompleted               ScanStatus = "completed"
)

// Scan is one enumeration run, identified by its configuration fingerprint
type Scan struct {
	ID         string     `db:"id" json:"id"`
	ConfigHash string     `db:"config_hash" json:"config_hash"`
	Config     string     `db:"config" json:"config"`
	Status     ScanStatus `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

const scanColumns = `id, config_hash, config, status, created_at, updated_at`

// CreateScan inserts a new scan with a freshly generated id
func (s *Store) CreateScan(ctx context.Context, configHash, configJSON string) (*Scan, error) {
	id := NewScanID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, config_hash, config, status) VALUES (?, ?, ?, ?)`,
		id, configHash, configJSON, string(StatusScanCreated))
	if err != nil {
		return nil, fmt.Errorf("failed to create scan: %w", err)
	}
	return s.GetScan(ctx, id)
}

// GetScan returns the scan with the given id
func (s *Store) GetScan(ctx context.Context, id string) (*Scan, error) {
	var scan Scan
	err := s.db.GetContext(ctx, &scan, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan %s: %w", id, err)
	}
	return &scan, nil
}

// FindScanByHash returns the scan created for a configuration fingerprint
func (s *Store) FindScanByHash(ctx context.Context, configHash string) (*Scan, error) {
	var scan Scan
	err := s.db.GetContext(ctx, &scan, `SELECT `+scanColumns+` FROM scans WHERE config_hash = ?`, configHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up scan: %w", err)
	}
	return &scan, nil
}

// ListScans returns the most recently updated scans first
func (s *Store) ListScans(ctx context.Context, limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	scans := []Scan{}
	err := s.db.SelectContext(ctx, &scans,
		`SELECT `+scanColumns+` FROM scans ORDER BY updated_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return scans, nil
}

// UpdateScanStatus persists a lifecycle transition
func (s *Store) UpdateScanStatus(ctx context.Context, id string, status ScanStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	return requireRow(res, err, id)
}

// ResetScan sends a scan back to scan_created and drops its queue, keeping the id
func (s *Store) ResetScan(ctx context.Context, id string) error {
	if err := s.DropQueue(ctx, id); err != nil {
		return err
	}
	return s.UpdateScanStatus(ctx, id, StatusScanCreated)
}

// DeleteScan removes a scan, its queue and its logs
func (s *Store) DeleteScan(ctx context.Context, id string) error {
	if err := s.DropQueue(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE scan_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete logs for %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
	return requireRow(res, err, id)
}

func requireRow(res sql.Result, err error, id string) error {
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	return nil
}
