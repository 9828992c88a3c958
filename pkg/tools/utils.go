package tools

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const redacted = "<redacted>"

// SplitBindAddress splits a host:port bind address and validates the port.
func SplitBindAddress(addr string) (string, int, error) {
	if strings.Contains(addr, "/") {
		return "", 0, fmt.Errorf("invalid bind address: CIDR notation not allowed, got %s", addr)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid bind address %s: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in bind address: %s", addr)
	}

	if host != "" && net.ParseIP(host) == nil {
		return "", 0, fmt.Errorf("invalid IP address in bind address: %s", addr)
	}

	return host, port, nil
}

// IsWildcardOrLoopback reports whether host listens on every interface or on
// loopback only, neither of which needs a local interface lookup.
func IsWildcardOrLoopback(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsUnspecified() || ip.IsLoopback()
}

// RedactSecret hides every occurrence of secret in text.
func RedactSecret(text, secret string) string {
	if secret == "" {
		return text
	}
	return strings.ReplaceAll(text, secret, redacted)
}
