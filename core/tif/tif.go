// Package tif defines the Transaction Information Flags returned in every
// SQRL server response.
package tif

import (
	"fmt"
	"strconv"
	"strings"
)

// Bits is a bit-packed set of transaction information flags.
type Bits uint32

const (
	// CurrentIDMatch indicates the presented identity key matches a known
	// identity's current key.
	CurrentIDMatch Bits = 0x001

	// PreviousIDMatch indicates the presented previous identity key matches
	// a known identity (key rotation in progress).
	PreviousIDMatch Bits = 0x002

	// IPAddressesMatch indicates the request IP equals the IP the nut was
	// issued to. Only meaningful with an encrypted nut generator.
	IPAddressesMatch Bits = 0x004

	// IDDisabled indicates the matched identity has SQRL authentication
	// disabled.
	IDDisabled Bits = 0x008

	// FunctionNotSupported indicates the client asked for a command the
	// server does not implement.
	FunctionNotSupported Bits = 0x010

	// TransientError indicates a server-side failure; the client may retry
	// with the fresh nut carried in the same response.
	TransientError Bits = 0x020

	// CommandFailed indicates the command was not executed.
	CommandFailed Bits = 0x040

	// ClientFailure indicates the failure was caused by malformed or
	// unverifiable client input.
	ClientFailure Bits = 0x080

	// BadIDAssociation indicates the identity presented does not belong to
	// the account associated with this conversation.
	BadIDAssociation Bits = 0x100
)

// Has reports whether all flags in mask are set.
func (b Bits) Has(mask Bits) bool {
	return b&mask == mask
}

// Hex renders the flags as lowercase hexadecimal without prefix, the wire
// form of the tif= response field.
func (b Bits) Hex() string {
	return strconv.FormatUint(uint64(b), 16)
}

// ParseHex parses the wire form produced by Hex.
func ParseHex(s string) (Bits, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tif value %q: %w", s, err)
	}
	return Bits(v), nil
}

var flagNames = []struct {
	bit  Bits
	name string
}{
	{CurrentIDMatch, "CurrentIDMatch"},
	{PreviousIDMatch, "PreviousIDMatch"},
	{IPAddressesMatch, "IPAddressesMatch"},
	{IDDisabled, "IDDisabled"},
	{FunctionNotSupported, "FunctionNotSupported"},
	{TransientError, "TransientError"},
	{CommandFailed, "CommandFailed"},
	{ClientFailure, "ClientFailure"},
	{BadIDAssociation, "BadIDAssociation"},
}

// String returns a human-readable flag list for logging.
func (b Bits) String() string {
	if b == 0 {
		return "0"
	}
	var parts []string
	for _, f := range flagNames {
		if b.Has(f.bit) {
			parts = append(parts, f.name)
		}
	}
	if rest := b &^ (CurrentIDMatch | PreviousIDMatch | IPAddressesMatch |
		IDDisabled | FunctionNotSupported | TransientError |
		CommandFailed | ClientFailure | BadIDAssociation); rest != 0 {
		parts = append(parts, "0x"+rest.Hex())
	}
	return strings.Join(parts, "|")
}
