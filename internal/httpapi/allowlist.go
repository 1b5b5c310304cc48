package httpapi

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
)

// clientIP extracts the caller IP without a port. X-Forwarded-For is only
// honoured when the direct peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	peer := remoteHost(r)
	if len(s.proxies) == 0 || !s.trusted(peer) {
		return peer
	}
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return peer
	}
	// Walk from the nearest hop and stop at the first untrusted address.
	hops := strings.Split(fwd, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		h := strings.TrimSpace(hops[i])
		if net.ParseIP(h) == nil {
			return peer
		}
		if !s.trusted(h) || i == 0 {
			return h
		}
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func (s *Server) trusted(ipStr string) bool {
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, n := range s.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// parseCIDRorIP parses either a CIDR string or a single IP address.
func parseCIDRorIP(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty")
	}
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, errors.New("invalid ip")
	}
	bits := 128
	if ip.To4() != nil {
		bits = 32
		ip = ip.To4()
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// withClient records the caller address and user agent for audit entries.
func (s *Server) withClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithClient(r.Context(), audit.Client{IP: s.clientIP(r), UserAgent: r.UserAgent()})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
