// Package export writes the found results of a scan to flat files.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rootsploit/voyage/internal/storage"
)

// Format represents an export format type
type Format string

const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatCSV, FormatJSON:
		return f, nil
	case "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Extension returns the file extension for the format
func (f Format) Extension() string {
	if f == FormatText {
		return "txt"
	}
	return string(f)
}

// Write serializes results to w. CSV output starts with a
// "subdomain,domain" header; text output is one host per line.
func Write(w io.Writer, format Format, results []storage.Result) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, results)
	case FormatText:
		return writeText(w, results)
	case FormatJSON:
		return writeJSON(w, results)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeCSV(w io.Writer, results []storage.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"subdomain", "domain"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write([]string{r.Subdomain, r.Domain}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeText(w io.Writer, results []storage.Result) error {
	bw := bufio.NewWriter(w)
	for _, r := range results {
		if _, err := fmt.Fprintln(bw, r.FQDN()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeJSON(w io.Writer, results []storage.Result) error {
	type row struct {
		Host      string `json:"host"`
		Subdomain string `json:"subdomain"`
		Domain    string `json:"domain"`
		Source    string `json:"source,omitempty"`
	}
	rows := make([]row, len(results))
	for i, r := range results {
		rows[i] = row{Host: r.FQDN(), Subdomain: r.Subdomain, Domain: r.Domain, Source: r.Source}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// WriteFile writes results to path, creating parent directories
func WriteFile(path string, format Format, results []storage.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := Write(f, format, results); err != nil {
		f.Close()
		return fmt.Errorf("write %s export: %w", format, err)
	}
	return f.Close()
}

// ToFile exports the found results of scanID and returns how many rows
// were written.
func ToFile(ctx context.Context, store *storage.Store, scanID, path string, format Format) (int, error) {
	results, err := store.FoundResults(ctx, scanID)
	if err != nil {
		return 0, err
	}
	if err := WriteFile(path, format, results); err != nil {
		return 0, err
	}
	return len(results), nil
}
