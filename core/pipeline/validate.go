package pipeline

import (
	"fmt"
	"net/url"
	"strings"

	"KeyShift/model"
)

// ValidateSourceURL checks raw against the scheme and host allow-list and
// returns the normalised URL. Failures wrap model.ErrInvalidInput.
func ValidateSourceURL(raw string, allowedHosts []string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: missing url", model.ErrInvalidInput)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", model.ErrInvalidInput, u.Scheme)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials in url", model.ErrInvalidInput)
	}

	host := strings.ToLower(u.Hostname())
	if !hostAllowed(host, allowedHosts) {
		return "", fmt.Errorf("%w: host %q is not supported", model.ErrInvalidInput, host)
	}
	return u.String(), nil
}

func hostAllowed(host string, allowed []string) bool {
	if host == "" {
		return false
	}
	for _, h := range allowed {
		if host == strings.ToLower(h) {
			return true
		}
	}
	return false
}
