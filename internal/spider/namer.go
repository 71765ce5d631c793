package spider

import (
	"net/url"
	"strings"
)

// HTMLName derives a file name for a saved response from its URL: the last
// path segment, with the query appended and its special characters
// sanitized. Remote URLs get an .html suffix so the saved file can be
// replayed as a local start URL.
func HTMLName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return sanitize(rawURL)
	}

	name := strings.TrimSuffix(u.Path, "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		name = u.Hostname()
	}
	if u.RawQuery != "" {
		name += "?" + u.RawQuery
	}
	name = sanitize(name)

	if u.Scheme != "file" && !strings.HasSuffix(name, ".html") {
		name += ".html"
	}
	return name
}

// sanitize replaces query characters that do not belong in file names.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "?", "_")
	return strings.ReplaceAll(name, "=", "_")
}
