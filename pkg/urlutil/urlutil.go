package urlutil

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Schemes that never lead to a crawlable page.
var skipSchemes = map[string]bool{
	"javascript": true,
	"mailto":     true,
	"tel":        true,
	"data":       true,
	"ftp":        true,
}

// Normalize resolves href against base and returns the canonical form used
// for frontier deduplication: absolute URL, fragment stripped, scheme and
// host lowercased, empty path mapped to "/". The second return value is
// false for malformed references and non-crawlable schemes.
func Normalize(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	var u *url.URL
	if base != nil {
		u = base.ResolveReference(ref)
	} else {
		u = ref
	}

	if skipSchemes[strings.ToLower(u.Scheme)] {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Hostname() == "" {
		return "", false
	}

	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), true
}

// NormalizeString is Normalize for an already-absolute raw URL.
func NormalizeString(rawURL string) (string, bool) {
	return Normalize(nil, rawURL)
}

// RegisteredDomain returns the eTLD+1 for a host, so that
// blog.example.co.uk and www.example.co.uk share the same registered
// domain. Hosts without a public suffix (IPs, localhost, test servers)
// fall back to the host itself.
func RegisteredDomain(host string) string {
	host = strings.ToLower(host)
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// SameRegisteredDomain reports whether two URLs share a registered domain.
func SameRegisteredDomain(a, b *url.URL) bool {
	return RegisteredDomain(a.Hostname()) == RegisteredDomain(b.Hostname())
}
