package utils

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// documentNamespace seeds the name-based ids of stored documents.
var documentNamespace = uuid.MustParse("6f1c2b8e-3d4a-5e6f-8a9b-0c1d2e3f4a5b")

// excludedExtensions are assets and downloads, never interpretation pages.
var excludedExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".svg": {}, ".ico": {}, ".pdf": {}, ".zip": {}, ".exe": {}, ".dmg": {},
}

// IsValidURL reports whether rawURL is an absolute http(s) link to a page.
// Links whose path ends in an asset or download extension are rejected.
func IsValidURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	// mailto:, tel: and friends fail here
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	_, excluded := excludedExtensions[strings.ToLower(path.Ext(u.Path))]
	return !excluded
}

// NormalizeURL drops the fragment and a trailing slash so that the same page
// reached through slightly different links dedups to one key.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

// ResolveURL resolves href against base. It returns "" when either side does
// not parse or when href only points at a fragment of base.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	b, err := url.Parse(base)
	if err != nil {
		return ""
	}

	link, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := b.ResolveReference(link)
	if resolved.Fragment != "" && resolved.RawQuery == "" && resolved.Path == b.Path && link.Path == "" {
		return ""
	}

	return resolved.String()
}

// LastPathSegment returns the final non-empty path segment of rawURL.
func LastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

var datePrefix = regexp.MustCompile(`^(\d{4}(?:-\d{2}(?:-\d{2})?)?)(?:$|\D)`)

// DatePrefix returns the leading YYYY, YYYY-MM or YYYY-MM-DD of s, or "".
func DatePrefix(s string) string {
	m := datePrefix.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// DocumentID derives a stable id for a document from its collection and
// natural key, so re-crawls keep the same id.
func DocumentID(collection, naturalKey string) string {
	return uuid.NewSHA1(documentNamespace, []byte(collection+"\x00"+naturalKey)).String()
}
