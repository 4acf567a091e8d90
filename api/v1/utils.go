package v1

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// getClientIP walks the usual reverse-proxy headers for the first public
// address, falling back to the connection address. Used only for the
// best-effort geo lookup, so a loopback fallback is acceptable.
func getClientIP(c *fiber.Ctx) string {
	if ip := firstPublicIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"} {
		if value := c.Get(header); value != "" {
			if ip := firstPublicIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if host, _, err := net.SplitHostPort(c.Context().RemoteAddr().String()); err == nil {
		if parsed := net.ParseIP(host); parsed != nil && !isPrivateIP(parsed) {
			return host
		}
	}

	if ip := c.IP(); ip != "" {
		if parsed := net.ParseIP(strings.TrimSpace(ip)); parsed != nil && !isPrivateIP(parsed) {
			return ip
		}
	}
	return "127.0.0.1"
}

func firstPublicIP(values []string) string {
	for _, raw := range values {
		clean := strings.TrimSpace(strings.Trim(raw, "\""))
		if clean == "" {
			continue
		}
		if percent := strings.Index(clean, "%"); percent != -1 {
			clean = clean[:percent]
		}
		if addrPort, err := netip.ParseAddrPort(clean); err == nil {
			clean = addrPort.Addr().Unmap().String()
		}
		parsed := net.ParseIP(clean)
		if parsed != nil && !isPrivateIP(parsed) {
			return clean
		}
	}
	return ""
}

var privateBlocks = func() []*net.IPNet {
	blocks := make([]*net.IPNet, 0, 7)
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
		"fe80::/10",
		"::1/128",
		"127.0.0.0/8",
	} {
		_, block, _ := net.ParseCIDR(cidr)
		blocks = append(blocks, block)
	}
	return blocks
}()

func isPrivateIP(ip net.IP) bool {
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
