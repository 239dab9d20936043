// Package wordlist reads subdomain wordlists and fingerprints their content.
package wordlist

import (
	"bufio"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrEmpty is returned when a wordlist holds no usable entries.
var ErrEmpty = errors.New("wordlist is empty")

// Read returns the non-blank, non-comment lines of the wordlist at path, in
// file order, lowercased and with surrounding whitespace and dots removed.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wordlist: %w", err)
	}
	defer f.Close()

	words, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read wordlist %s: %w", path, err)
	}
	return words, nil
}

// Parse reads entries from r. Returns ErrEmpty if nothing usable was found.
func Parse(r io.Reader) ([]string, error) {
	var words []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.ToLower(strings.Trim(strings.TrimSpace(scanner.Text()), "."))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, ErrEmpty
	}
	return words, nil
}

// Hash returns the hex SHA-512 digest of the wordlist file's bytes.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open wordlist: %w", err)
	}
	defer f.Close()

	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash wordlist: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
