package matomo

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// DefaultScript is appended to collector URLs that do not name a tracker script.
const DefaultScript = "matomo.php"

var (
	// ErrMissingURL is returned when no collector URL is configured
	ErrMissingURL = errors.New("matomo url has to be set")
	// ErrInvalidURL is returned when the collector URL is not an absolute URL
	ErrInvalidURL = errors.New("matomo url is invalid")
	// ErrInvalidSiteID is returned when the site id is not a positive integer
	ErrInvalidSiteID = errors.New("site id has to be a positive integer")
	// ErrCollectorStatus marks a tracking call answered with a non-success status code
	ErrCollectorStatus = errors.New("collector returned non-success status")
)

// NormalizeURL returns the collector endpoint for a configured Matomo URL.
// An explicit script path such as /piwik.php is kept as is, anything else gets
// /matomo.php appended.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute url", ErrInvalidURL, raw)
	}

	if !strings.HasSuffix(u.Path, ".php") {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + DefaultScript
		u.RawPath = ""
	}

	return u.String(), nil
}

// ClientIP returns the X-Forwarded-For header when present, otherwise the host
// part of the socket remote address.
func ClientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		return forwarded
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PreferredLanguage returns the highest weighted tag of an Accept-Language header
func PreferredLanguage(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}

	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return firstValidLanguage(header)
	}
	for _, tag := range tags {
		if tag != language.Und {
			return tag.String()
		}
	}
	return ""
}

// firstValidLanguage returns the first entry of a malformed header that
// parses as a language tag
func firstValidLanguage(header string) string {
	for _, entry := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(entry, ";")
		tag, err := language.Parse(strings.TrimSpace(name))
		if err == nil && tag != language.Und {
			return tag.String()
		}
	}
	return ""
}

func requestURL(r *http.Request, baseURL string) string {
	if baseURL != "" {
		return baseURL + r.URL.Path
	}
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	return u.String()
}
