// Package envelope implements the SQRL wire envelope: unpadded base64url
// framing around CRLF-terminated name=value blocks.
package envelope

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Encode renders bytes as unpadded base64url. The encoder never emits '='
// padding anywhere in a SQRL message.
func Encode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// EncodeString is Encode over the UTF-8 bytes of s.
func EncodeString(s string) string {
	return Encode([]byte(s))
}

// Decode accepts base64url input with or without padding. Clients in the
// wild disagree on padding; the server tolerates both.
func Decode(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	data, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url: %w", err)
	}
	return data, nil
}

// Pair is one name=value line of a block. Values may themselves contain '='.
type Pair struct {
	Name  string
	Value string
}

// ParseBlock parses a CRLF-terminated name=value block into a map. Blank
// lines are ignored. A non-blank line without '=' is a parse error. The
// decoder does not depend on field order; later duplicates win.
func ParseBlock(data []byte) (map[string]string, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(string(data), "\r\n") {
		// Drop stray LFs at the edges of a line. Lines are split on CRLF
		// only; a block separated by bare LFs is read as a single line.
		line = strings.Trim(line, "\n")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("malformed line %q: missing '='", line)
		}
		fields[line[:idx]] = line[idx+1:]
	}
	return fields, nil
}

// FormatBlock renders pairs as CRLF-joined name=value lines with the
// required trailing CRLF. Pairs are emitted in the given order; a caller
// composing a server reply passes fields in the protocol's defined order.
func FormatBlock(pairs []Pair) []byte {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.Value)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
