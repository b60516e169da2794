// Package sqrlurl builds and canonicalizes sqrl:// login URLs.
package sqrlurl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/erikmav/passport-sqrl/core/envelope"
)

// UrlAndNut couples a generated login URL with the nut embedded in it.
// NutRaw is nil when the nut was supplied pre-encoded.
type UrlAndNut struct {
	URL    string
	Nut    string
	NutRaw []byte
}

// Factory constructs canonical sqrl:// URLs for one site.
type Factory struct {
	// Domain is the host presented to SQRL clients.
	Domain string

	// Port, when nonzero, is rendered as :port after the host.
	Port int

	// Path of the SQRL endpoint. Normalized to a leading '/'. A trailing
	// '?' is accepted as a convenience marker and stripped.
	Path string

	// DomainExt, when nonzero, emits the x= hint telling the client how
	// many leading path characters participate in per-site key derivation.
	DomainExt int
}

// NutForBytes builds the URL for raw nut bytes, rendered as unpadded
// base64url.
func (f *Factory) NutForBytes(nut []byte) *UrlAndNut {
	encoded := envelope.Encode(nut)
	u := f.build(encoded)
	return &UrlAndNut{URL: u, Nut: encoded, NutRaw: nut}
}

// NutForString builds the URL for a pre-encoded nut value.
func (f *Factory) NutForString(nut string) *UrlAndNut {
	return &UrlAndNut{URL: f.build(nut), Nut: nut}
}

func (f *Factory) build(nut string) string {
	var b strings.Builder
	b.WriteString("sqrl://")
	b.WriteString(f.Domain)
	if f.Port != 0 {
		fmt.Fprintf(&b, ":%d", f.Port)
	}
	path := NormalizePath(f.Path)
	b.WriteString(path)
	b.WriteString("?nut=")
	b.WriteString(nut)
	if f.DomainExt > 0 && path != "" {
		ext := f.DomainExt
		if ext > len(path) {
			ext = len(path)
		}
		fmt.Fprintf(&b, "&x=%d", ext)
	}
	return b.String()
}

// NormalizePath forces a leading '/' and strips the trailing '?' marker.
// An empty path stays empty.
func NormalizePath(path string) string {
	path = strings.TrimSuffix(path, "?")
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// Canonicalize reduces a SQRL URL to the byte sequence the client signs:
// lowercase scheme and host, no userinfo, no explicit port, path and query
// preserved verbatim.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse sqrl url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute url: %q", raw)
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Hostname()))
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}

// NutParam extracts the nut query parameter from a SQRL URL.
func NutParam(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse sqrl url: %w", err)
	}
	nut := u.Query().Get("nut")
	if nut == "" {
		return "", fmt.Errorf("url %q carries no nut", raw)
	}
	return nut, nil
}
