package extract

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL indicates no valid content id could be parsed from input.
var ErrInvalidURL = errors.New("no valid content id in url")

var contentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// WatchURL rebuilds the canonical source URL for a content id. Used when
// re-acquiring assets whose original submission URL was not retained.
func WatchURL(contentID string) string {
	return "https://www.youtube.com/watch?v=" + contentID
}

// ParseContentID extracts the stable 11-character content id from a
// submission URL. A bare id is accepted as-is.
func ParseContentID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	if contentIDPattern.MatchString(raw) {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	if v := u.Query().Get("v"); contentIDPattern.MatchString(v) {
		return v, nil
	}

	path := strings.Trim(u.Path, "/")
	segments := strings.Split(path, "/")
	host := strings.ToLower(u.Host)
	switch {
	case strings.HasSuffix(host, "youtu.be"):
		if len(segments) > 0 && contentIDPattern.MatchString(segments[0]) {
			return segments[0], nil
		}
	case len(segments) >= 2:
		switch segments[len(segments)-2] {
		case "embed", "shorts", "v", "live":
			if contentIDPattern.MatchString(segments[len(segments)-1]) {
				return segments[len(segments)-1], nil
			}
		}
	}
	return "", ErrInvalidURL
}
