package identity

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sanitize strips diacritics, lower-cases and replaces every rune outside
// [a-z0-9-] with '-'. It is pure: equal input always yields equal output.
func Sanitize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}

	stripped = strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// CanonicalFilename is the on-disk name of photo index of a listing:
// sanitize(title)-id-index.ext
func CanonicalFilename(title, listingID, index, ext string) string {
	return Sanitize(title) + "-" + listingID + "-" + index + ext
}

// RemoteFilename returns the last path segment of a photo URL. It is the
// photo's stable identity across syncs.
func RemoteFilename(rawURL string) (string, error) {
	u, err := parsePhotoURL(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", fmt.Errorf("photo url %q has no file name", rawURL)
	}
	return name, nil
}

// Extension returns the extension (with dot) of the URL path, ignoring any
// query string.
func Extension(rawURL string) string {
	u, err := parsePhotoURL(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

func parsePhotoURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse photo url: %w", err)
	}
	if u.Path == "" {
		return nil, fmt.Errorf("photo url %q has no path", rawURL)
	}
	return u, nil
}
