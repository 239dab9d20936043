package runner

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/storage"
)

// stage orders lifecycle statuses so setup steps can be skipped once done
var stage = map[storage.ScanStatus]int{
	storage.StatusScanCreated:             0,
	storage.StatusWorkloadTableCreated:    1,
	storage.StatusPassiveResultsPopulated: 2,
	storage.StatusBasicWorkloadPopulated:  3,
	storage.StatusRunning:                 4,
	storage.StatusCompleted:               5,
}

// before reports whether status has not yet reached target
func before(status, target storage.ScanStatus) bool {
	return stage[status] < stage[target]
}

// ConfigHash returns the hex SHA-512 of the configuration fingerprint
func ConfigHash(fp config.Fingerprint) (string, error) {
	data, err := json.Marshal(fp)
	if err != nil {
		return "", fmt.Errorf("failed to serialize configuration: %w", err)
	}
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:]), nil
}

// snapshot is the configuration stored alongside a scan for reference
type snapshot struct {
	Fingerprint       config.Fingerprint `json:"fingerprint"`
	WordlistPath      string             `json:"wordlist_path,omitempty"`
	Workers           int                `json:"workers"`
	BatchSize         int                `json:"batch_size"`
	IntervalMS        int64              `json:"interval_ms"`
	RequestTimeoutMS  int64              `json:"request_timeout_ms"`
	MaxRetries        int                `json:"max_retries"`
	ExcludeTechniques []string           `json:"exclude_techniques"`
	HTTPPorts         []int              `json:"http_ports"`
	HTTPSPorts        []int              `json:"https_ports"`
}

func configSnapshot(cfg *config.Config, fp config.Fingerprint) (string, error) {
	data, err := json.Marshal(snapshot{
		Fingerprint:       fp,
		WordlistPath:      cfg.WordlistPath,
		Workers:           cfg.Workers,
		BatchSize:         cfg.BatchSize,
		IntervalMS:        cfg.Interval.Milliseconds(),
		RequestTimeoutMS:  cfg.RequestTimeout.Milliseconds(),
		MaxRetries:        cfg.MaxRetries,
		ExcludeTechniques: cfg.ExcludeTechniques,
		HTTPPorts:         cfg.HTTPPorts,
		HTTPSPorts:        cfg.HTTPSPorts,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return string(data), nil
}
