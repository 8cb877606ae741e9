package util

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var ipv4Re = regexp.MustCompile(`^([0-9]{1,3}\.){3}[0-9]{1,3}(/([0-9]|[1-2][0-9]|3[0-2]))?$`)

// CheckValidIpv4 accepts a dotted quad with an optional /prefix, e.g. 192.168.1.1/24.
func CheckValidIpv4(ip string) bool {
	if !ipv4Re.MatchString(ip) {
		return false
	}

	ipParts := strings.Split(ip, "/")
	ipAddress := ipParts[0]

	// check each part of the IP address
	parts := strings.Split(ipAddress, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if val, err := strconv.Atoi(part); err != nil || val < 0 || val > 255 {
			return false
		}
	}
	return true
}

// ParseIfaceCIDR parses an interface address such as 10.0.0.1/24, keeping the host part.
func ParseIfaceCIDR(s string) (*net.IPNet, error) {
	if !CheckValidIpv4(s) || !strings.Contains(s, "/") {
		return nil, fmt.Errorf("invalid interface address %q, want a.b.c.d/len", s)
	}
	ip, ipNet, err := net.ParseCIDR(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CIDR: %v", err)
	}
	return &net.IPNet{IP: ip.To4(), Mask: ipNet.Mask}, nil
}

// NormalizeNetwork turns 10.0.2.0/24 (or 10.0.2.7/24) into its network form.
func NormalizeNetwork(s string) (string, error) {
	if !CheckValidIpv4(s) || !strings.Contains(s, "/") {
		return "", fmt.Errorf("invalid network %q, want a.b.c.d/len", s)
	}
	_, ipNet, err := net.ParseCIDR(s)
	if err != nil {
		return "", fmt.Errorf("failed to parse CIDR: %v", err)
	}
	return ipNet.String(), nil
}

// HostIP strips an optional prefix length.
func HostIP(s string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}
