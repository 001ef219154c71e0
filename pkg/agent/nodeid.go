package agent

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const nodeIDFileName = "node-id"

// loadOrCreateNodeID reads the persisted node id from dataDir, creating one
// on first run. The same file across restarts on the same host yields the
// same Node identity, matching invariant 5.
func loadOrCreateNodeID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, nodeIDFileName)

	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("persist node id: %w", err)
	}
	return id, nil
}

// discoverLocalIP finds this host's outbound IP via the UDP-connect trick:
// dialing UDP never sends a packet, it only makes the kernel pick a route,
// whose local address is this host's address for that destination. Falls
// back to loopback if the attempt fails (e.g. no network available).
func discoverLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
