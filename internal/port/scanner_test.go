package port

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenEphemeral binds an OS-assigned port and returns it. The listener
// is closed when the test ends.
func listenEphemeral(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "failed to start test listener")
	t.Cleanup(func() { _ = listener.Close() })

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return tcpAddr.Port
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		input    string
		expected Range
		hasError bool
	}{
		{"6006-6106", Range{6006, 6106}, false},
		{" 8000 - 8010 ", Range{8000, 8010}, false},
		{"6006", Range{6006, 6006}, false},
		{"6106-6006", Range{}, true},
		{"0-10", Range{}, true},
		{"6006-70000", Range{}, true},
		{"abc", Range{}, true},
		{"6006-", Range{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r, err := ParseRange(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, r)
		})
	}
}

func TestRange_String(t *testing.T) {
	assert.Equal(t, "6006-6106", Range{Start: 6006, End: 6106}.String())
}

// TestIsPortAvailable_UsedPort verifies that IsPortAvailable returns false
// when a port is already bound by another listener.
func TestIsPortAvailable_UsedPort(t *testing.T) {
	port := listenEphemeral(t)

	scanner := NewScanner()
	assert.False(t, scanner.IsPortAvailable(port), "port %d should be in use (we have a listener on it)", port)
}

// TestFindAvailablePort verifies that FindAvailablePort finds a free port
// within the requested range.
func TestFindAvailablePort(t *testing.T) {
	scanner := NewScanner()

	port, err := scanner.FindAvailablePort(Range{Start: 50000, End: 50100})
	require.NoError(t, err, "should find an available port in range 50000-50100")

	assert.GreaterOrEqual(t, port, 50000)
	assert.LessOrEqual(t, port, 50100)
	assert.True(t, scanner.IsPortAvailable(port))
}

// TestFindAvailablePort_SkipsUsed verifies that an occupied first port is
// skipped rather than returned.
func TestFindAvailablePort_SkipsUsed(t *testing.T) {
	used := listenEphemeral(t)
	if used == 65535 {
		t.Skip("ephemeral port at the top of the range")
	}

	scanner := NewScanner()
	port, err := scanner.FindAvailablePort(Range{Start: used, End: used + 1})
	if err != nil {
		t.Skipf("neighbouring port %d also busy: %v", used+1, err)
	}
	assert.Equal(t, used+1, port)
}

// TestFindAvailablePort_NoneAvailable verifies the error when every port
// in the range is occupied.
func TestFindAvailablePort_NoneAvailable(t *testing.T) {
	used := listenEphemeral(t)

	scanner := NewScanner()
	_, err := scanner.FindAvailablePort(Range{Start: used, End: used})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available")
	assert.Contains(t, err.Error(), fmt.Sprintf("%d-%d", used, used))
}

func TestFindAvailablePort_InvalidRange(t *testing.T) {
	_, err := NewScanner().FindAvailablePort(Range{Start: 10, End: 1})
	assert.Error(t, err)
}
