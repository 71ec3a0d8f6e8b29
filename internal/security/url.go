package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrDangerousURL indicates a URL that must not be fetched (CWE-918).
var ErrDangerousURL = errors.New("url blocked by security policy")

// blockedHostnames are names that resolve to the local machine or to
// cloud metadata services regardless of DNS.
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
	"metadata.goog",
}

// URLValidator rejects URLs that could reach internal infrastructure.
// Only http and https schemes are permitted, and the host must not be
// a loopback, private, link-local, or metadata address.
//
// Hostname checks here run before DNS; the dial-time check in
// SafeTransport covers hostnames that resolve to private addresses.
type URLValidator struct{}

// NewURLValidator creates a URL validator.
func NewURLValidator() *URLValidator {
	return &URLValidator{}
}

// Validate parses and checks a raw URL, returning the parsed form when
// it is safe to fetch.
func (v *URLValidator) Validate(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrDangerousURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDangerousURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrDangerousURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrDangerousURL)
	}
	for _, blocked := range blockedHostnames {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return nil, fmt.Errorf("%w: host %q", ErrDangerousURL, host)
		}
	}

	// Literal IPs are checked immediately; names are checked again at
	// dial time after resolution.
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if err := checkIP(ip); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// checkIP rejects addresses in ranges that should never be fetched on
// behalf of a tool call.
func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback address %s", ErrDangerousURL, ip)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private address %s", ErrDangerousURL, ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address %s", ErrDangerousURL, ip)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified address %s", ErrDangerousURL, ip)
	case ip.IsMulticast():
		return fmt.Errorf("%w: multicast address %s", ErrDangerousURL, ip)
	}
	return nil
}

// SafeTransport returns an http.RoundTripper that re-checks resolved
// addresses at dial time, closing the DNS-rebinding hole left by
// validating only the hostname.
func SafeTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("splitting address %q: %w", addr, err)
			}

			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("resolving %q: %w", host, err)
			}

			for _, ip := range ips {
				if err := checkIP(ip.IP); err != nil {
					return nil, err
				}
			}

			// Dial the first vetted address rather than the hostname so
			// a second resolution cannot return a different answer.
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
		},
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// ValidateRedirect is a CheckRedirect hook that applies the same URL
// policy to every hop and caps the redirect chain.
func (v *URLValidator) ValidateRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("%w: too many redirects", ErrDangerousURL)
	}
	if _, err := v.Validate(req.URL.String()); err != nil {
		return fmt.Errorf("redirect to %q: %w", req.URL, err)
	}
	return nil
}
