// -----------------------------------------------------------------------
// URL canonicalization - job URLs are deduplicated by canonical form
// -----------------------------------------------------------------------

package common

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Tracking query parameters stripped during canonicalization. Entries
// ending in '*' match as prefixes, everything else matches exactly.
// Comparison is case-insensitive.
var trackingParams = []string{
	"utm_*",
	"fbclid",
	"gclid",
	"mc_*",
	"ref",
	"ref_src",
	"source",
}

// CanonicalURL normalizes a job URL into the system's dedup form:
// lowercased scheme and host, no userinfo, no fragment, no trailing slash,
// tracking parameters removed, remaining query keys sorted. Path case is
// preserved. Unparseable or non-absolute input is returned trimmed as-is.
// The function is idempotent.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	} else {
		u.Path = ""
	}

	if u.RawQuery != "" {
		q, qerr := url.ParseQuery(u.RawQuery)
		if qerr == nil {
			for key := range q {
				if isTrackingParam(key) {
					delete(q, key)
				}
			}
			// Encode sorts keys lexicographically
			u.RawQuery = q.Encode()
		}
	}

	return u.String()
}

// URLHash returns the hex form of the 32-byte SHA-256 of the canonical URL
func URLHash(raw string) string {
	return HashString(CanonicalURL(raw))
}

// HashString returns the hex form of the 32-byte SHA-256 of s
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EquivalentURLs reports whether two URLs canonicalize to the same form
func EquivalentURLs(a, b string) bool {
	return CanonicalURL(a) == CanonicalURL(b)
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	for _, p := range trackingParams {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(key, strings.TrimSuffix(p, "*")) {
				return true
			}
		} else if key == p {
			return true
		}
	}
	return false
}

// HostOf extracts the lowercased hostname (no port, no www prefix is kept)
// from a URL for stop-list host matching. Empty when the URL is not
// absolute.
func HostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
