// Package client implements the content client: pluggable storage backends
// addressed by URL, server info and checkpoints, change subscriptions, and
// the channel transports the collaboration layer is built on.
//
// URLs with the "omni" or "omniverse" scheme address a remote content
// server; anything else is treated as a local filesystem path, so every
// sample can run against a plain directory without a server.
package client

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Remote URL schemes accepted by this client.
const (
	SchemeOmni      = "omni"
	SchemeOmniverse = "omniverse"
)

// URL is a parsed content URL. For local paths only Path is set.
type URL struct {
	Scheme string
	Host   string
	Path   string
}

// IsRemote reports whether the URL addresses a content server.
func (u URL) IsRemote() bool {
	return u.Scheme != ""
}

// ServerKey identifies the server a remote URL belongs to, e.g.
// "omni://localhost". Empty for local paths.
func (u URL) ServerKey() string {
	if !u.IsRemote() {
		return ""
	}

	return u.Scheme + "://" + u.Host
}

// String reassembles the URL.
func (u URL) String() string {
	if !u.IsRemote() {
		return u.Path
	}

	return u.Scheme + "://" + u.Host + u.Path
}

// Parse splits a content URL. Strings without a recognized remote scheme
// are returned as local paths, matching the original tooling which lets
// plain file paths flow through everywhere a URL is accepted.
func Parse(raw string) (URL, error) {
	if !strings.Contains(raw, "://") {
		return URL{Path: raw}, nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("parse url %q: %w", raw, err)
	}
	switch parsed.Scheme {
	case SchemeOmni, SchemeOmniverse:
		return URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: parsed.Path}, nil
	case "file":
		return URL{Path: parsed.Path}, nil
	default:
		return URL{}, fmt.Errorf("unsupported url scheme %q in %q", parsed.Scheme, raw)
	}
}

// IsValidServerURL reports whether raw is a well formed remote content URL
// with both a host and a path.
func IsValidServerURL(raw string) bool {
	u, err := Parse(raw)
	if err != nil {
		return false
	}

	return u.IsRemote() && u.Host != "" && u.Path != "" && u.Path != "/"
}

// Join appends path elements to a content URL, preserving its scheme and
// host.
func Join(base string, elems ...string) string {
	u, err := Parse(base)
	if err != nil {
		// Fall back to plain path joining for malformed input.
		return path.Join(append([]string{base}, elems...)...)
	}
	u.Path = path.Join(append([]string{u.Path}, elems...)...)

	return u.String()
}

// Dir returns the URL of the folder containing the given URL.
func Dir(raw string) string {
	u, err := Parse(raw)
	if err != nil {
		return path.Dir(raw)
	}
	u.Path = path.Dir(u.Path)

	return u.String()
}

// Base returns the last path element of the URL.
func Base(raw string) string {
	u, err := Parse(raw)
	if err != nil {
		return path.Base(raw)
	}

	return path.Base(u.Path)
}

// Stem returns the last path element with its extension removed, and the
// extension itself (including the dot).
func Stem(raw string) (string, string) {
	base := Base(raw)
	ext := path.Ext(base)

	return strings.TrimSuffix(base, ext), ext
}
