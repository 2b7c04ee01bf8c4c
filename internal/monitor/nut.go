package monitor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// upsStatus asks a NUT server for the ups.status variable, e.g. "OL" or "OB LB".
func upsStatus(ctx context.Context, addr, ups string, timeout time.Duration) (string, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("nut: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := fmt.Fprintf(conn, "GET VAR %s ups.status\n", ups); err != nil {
		return "", fmt.Errorf("nut: %w", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	// best effort, the server closes idle sessions anyway
	fmt.Fprint(conn, "LOGOUT\n")
	if err != nil && line == "" {
		return "", fmt.Errorf("nut: %w", err)
	}
	return parseVar(strings.TrimSpace(line))
}

// parseVar reads `VAR <ups> ups.status "<status>"`.
func parseVar(line string) (string, error) {
	if strings.HasPrefix(line, "ERR ") {
		return "", fmt.Errorf("nut: %s", strings.TrimPrefix(line, "ERR "))
	}
	if !strings.HasPrefix(line, "VAR ") {
		return "", fmt.Errorf("nut: unexpected answer %q", line)
	}
	first := strings.Index(line, `"`)
	last := strings.LastIndex(line, `"`)
	if first == -1 || last == first {
		return "", fmt.Errorf("nut: unexpected answer %q", line)
	}
	return line[first+1 : last], nil
}

// OnBattery reports whether a ups.status value says the UPS runs on battery.
func OnBattery(status string) bool {
	return strings.Contains(status, "OB")
}
