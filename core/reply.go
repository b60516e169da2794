package core

import (
	"strconv"

	"github.com/erikmav/passport-sqrl/core/envelope"
	"github.com/erikmav/passport-sqrl/core/tif"
)

// ServerReply is the structured form of one server response, rendered as a
// base64url-encoded CRLF name=value block.
type ServerReply struct {
	// SupportedVersions is the ver= list; this server speaks revision 1.
	SupportedVersions []int

	// NextNut is the freshly minted nut the client must present next.
	NextNut string

	// TIF carries the transaction information flags.
	TIF tif.Bits

	// NextQueryPath is the relative qry= URL for the client's next POST.
	NextQueryPath string

	// RedirectOnSuccessURL (url=) is included for cps clients after a
	// non-query command.
	RedirectOnSuccessURL string

	// RedirectOnCancelURL (can=) lets the client abandon authentication.
	RedirectOnCancelURL string

	// SessionUnlockKey (suk=) returns the stored unlock value on request.
	SessionUnlockKey string

	// SecretIndex (sin=) asks the client to return an index secret.
	SecretIndex string

	// Ask (ask=) carries a server question or, on failures, the
	// human-readable cause.
	Ask string
}

// Encode renders the reply in the protocol's defined field order and wraps
// it in unpadded base64url.
func (r *ServerReply) Encode() string {
	versions := "1"
	if len(r.SupportedVersions) > 0 {
		versions = ""
		for i, v := range r.SupportedVersions {
			if i > 0 {
				versions += ","
			}
			versions += strconv.Itoa(v)
		}
	}

	pairs := []envelope.Pair{
		{Name: "ver", Value: versions},
		{Name: "nut", Value: r.NextNut},
		{Name: "tif", Value: r.TIF.Hex()},
		{Name: "qry", Value: r.NextQueryPath},
	}
	if r.RedirectOnSuccessURL != "" {
		pairs = append(pairs, envelope.Pair{Name: "url", Value: r.RedirectOnSuccessURL})
	}
	if r.SessionUnlockKey != "" {
		pairs = append(pairs, envelope.Pair{Name: "suk", Value: r.SessionUnlockKey})
	}
	if r.SecretIndex != "" {
		pairs = append(pairs, envelope.Pair{Name: "sin", Value: r.SecretIndex})
	}
	if r.RedirectOnCancelURL != "" {
		pairs = append(pairs, envelope.Pair{Name: "can", Value: r.RedirectOnCancelURL})
	}
	if r.Ask != "" {
		pairs = append(pairs, envelope.Pair{Name: "ask", Value: r.Ask})
	}
	return envelope.Encode(envelope.FormatBlock(pairs))
}

// DecodeReply parses an encoded reply body back into its field map; the
// mock client and tests read responses through this.
func DecodeReply(body string) (map[string]string, error) {
	raw, err := envelope.Decode(body)
	if err != nil {
		return nil, err
	}
	return envelope.ParseBlock(raw)
}
