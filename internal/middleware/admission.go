package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pulsegate/backend/internal/apperr"
	"github.com/pulsegate/backend/internal/logging"
)

// TrustedHost rejects requests whose Host header is not on the allowlist. An
// empty allowlist disables the check.
func TrustedHost(allowedHosts []string) Middleware {
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	return Middleware{
		Name: NameTrustedHost,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if len(allowed) > 0 {
					host := r.Host
					if h, _, err := net.SplitHostPort(host); err == nil {
						host = h
					}
					if _, ok := allowed[strings.ToLower(host)]; !ok {
						writeError(w, apperr.Newf(apperr.KindValidation, "Host %q is not allowed", host))
						return
					}
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}

// Correlation takes X-Correlation-ID from the request or generates a new
// 8-character token, stores it in the context, and mirrors it on the
// response.
func Correlation() Middleware {
	return Middleware{
		Name: NameCorrelation,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id := r.Header.Get("X-Correlation-ID")
				if id == "" {
					id = logging.NewCorrelationID()
				}
				w.Header().Set("X-Correlation-ID", id)
				ctx := logging.WithCorrelationID(r.Context(), id)
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		},
	}
}

// ClientIP resolves the real client address once per request. X-Forwarded-For
// is honored (first entry) only when the immediate peer matches a trusted
// proxy, so untrusted clients cannot spoof their address.
func ClientIP(trustedProxies []string) Middleware {
	var nets []*net.IPNet
	var exact []net.IP
	for _, p := range trustedProxies {
		if _, ipNet, err := net.ParseCIDR(p); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		if ip := net.ParseIP(p); ip != nil {
			exact = append(exact, ip)
		}
	}

	trusted := func(remote net.IP) bool {
		for _, n := range nets {
			if n.Contains(remote) {
				return true
			}
		}
		for _, ip := range exact {
			if ip.Equal(remote) {
				return true
			}
		}
		return false
	}

	return Middleware{
		Name: NameClientIP,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				clientIP := host
				if remote := net.ParseIP(host); remote != nil && trusted(remote) {
					if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
						first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
						if first != "" {
							clientIP = first
						}
					}
				}
				ctx := logging.WithClientIP(r.Context(), clientIP)
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		},
	}
}

// BodyLimit rejects requests whose declared Content-Length exceeds the
// maximum and caps the body reader for the rest.
func BodyLimit(maxBytes int64) Middleware {
	return Middleware{
		Name: NameBodyLimit,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.ContentLength > maxBytes {
					writeError(w, apperr.Newf(apperr.KindPayloadTooLarge,
						"Request body exceeds %d bytes", maxBytes))
					return
				}
				if r.Body != nil {
					r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}

// SecurityHeaders adds the fixed response headers.
func SecurityHeaders() Middleware {
	return Middleware{
		Name: NameSecurity,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h := w.Header()
				h.Set("X-Frame-Options", "DENY")
				h.Set("X-Content-Type-Options", "nosniff")
				h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(31536000)+"; includeSubDomains")
				h.Set("Content-Security-Policy", "default-src 'self'")
				h.Set("Referrer-Policy", "no-referrer")
				next.ServeHTTP(w, r)
			})
		},
	}
}
