package port

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Range is an inclusive port range, e.g. 6006-6106.
type Range struct {
	Start int
	End   int
}

// String returns the range in "start-end" form.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Validate checks 1 <= Start <= End <= 65535.
func (r Range) Validate() error {
	if r.Start < 1 || r.End > 65535 || r.Start > r.End {
		return fmt.Errorf("invalid port range %s (must satisfy 1 <= start <= end <= 65535)", r)
	}
	return nil
}

// ParseRange parses "start-end" or a single port "p" (a range of one).
func ParseRange(s string) (Range, error) {
	startStr, endStr, found := strings.Cut(strings.TrimSpace(s), "-")
	if !found {
		endStr = startStr
	}

	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return Range{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return Range{}, fmt.Errorf("invalid port range %q: %w", s, err)
	}

	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Scanner checks whether TCP ports are available on the host machine.
//
// Host is the address the check binds to. The dashboard listens on all
// interfaces by default, so the empty host (all interfaces) is used.
type Scanner struct {
	Host string
}

// NewScanner creates a Scanner that checks all interfaces.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable checks whether a single TCP port is free by binding
// it and immediately closing the listener.
func (s *Scanner) IsPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// FindAvailablePort returns the first free port in r, scanning upward
// from r.Start.
func (s *Scanner) FindAvailablePort(r Range) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	for p := r.Start; p <= r.End; p++ {
		if s.IsPortAvailable(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no available tcp port found in range %s", r)
}
