package technique

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/rootsploit/voyage/internal/storage"
)

// ErrNoRecords means the resolver answered but holds nothing for the name
var ErrNoRecords = errors.New("no records found")

// Classify maps a probe error to a log severity: an expected absence is
// info, a timeout is warn, anything else is error.
func Classify(err error) storage.Level {
	switch {
	case err == nil:
		return storage.LevelDebug
	case IsTimeout(err):
		return storage.LevelWarn
	case isAbsent(err):
		return storage.LevelInfo
	default:
		return storage.LevelError
	}
}

// IsTimeout reports whether err was caused by a deadline
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isAbsent(err error) bool {
	if errors.Is(err, ErrNoRecords) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
