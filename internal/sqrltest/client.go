// Package sqrltest provides a minimal in-process SQRL client for exercising
// the server core in tests: it holds Ed25519 identity keys and produces
// correctly signed POST envelopes.
package sqrltest

import (
	"crypto/ed25519"
	"crypto/rand"
	"net/url"

	"github.com/erikmav/passport-sqrl/core/envelope"
)

// Client is a fake SQRL app holding per-site identity keys.
type Client struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	prevPriv ed25519.PrivateKey
	prevPub  ed25519.PublicKey
}

// NewClient generates a client with a fresh identity key pair.
func NewClient() (*Client, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Client{priv: priv, pub: pub}, nil
}

// IdentityKey returns the wire form of the primary public key.
func (c *Client) IdentityKey() string {
	return envelope.Encode(c.pub)
}

// PreviousIdentityKey returns the wire form of the retired public key, or
// empty when the client never rotated.
func (c *Client) PreviousIdentityKey() string {
	if c.prevPub == nil {
		return ""
	}
	return envelope.Encode(c.prevPub)
}

// Rotate retires the current key pair and generates a new primary, the way
// a real client performs an identity rekey.
func (c *Client) Rotate() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.prevPriv, c.prevPub = c.priv, c.pub
	c.priv, c.pub = priv, pub
	return nil
}

// Fields are the client block entries beyond ver/cmd/idk/pidk.
type Fields struct {
	Opt string
	Suk string
	Vuk string
	Btn string
}

// EnvelopeForURL builds a signed POST for a conversation-opening message:
// the server field echoes the sqrl:// URL from the QR code.
func (c *Client) EnvelopeForURL(cmd, sqrlURL string, f Fields) url.Values {
	return c.envelope(cmd, envelope.EncodeString(sqrlURL), f)
}

// EnvelopeForReply builds a signed POST echoing a previous server reply
// body (already base64url encoded on the wire).
func (c *Client) EnvelopeForReply(cmd, replyBody string, f Fields) url.Values {
	return c.envelope(cmd, replyBody, f)
}

func (c *Client) envelope(cmd, serverParam string, f Fields) url.Values {
	pairs := []envelope.Pair{
		{Name: "ver", Value: "1"},
		{Name: "cmd", Value: cmd},
		{Name: "idk", Value: c.IdentityKey()},
	}
	if c.prevPub != nil {
		pairs = append(pairs, envelope.Pair{Name: "pidk", Value: c.PreviousIdentityKey()})
	}
	if f.Suk != "" {
		pairs = append(pairs, envelope.Pair{Name: "suk", Value: f.Suk})
	}
	if f.Vuk != "" {
		pairs = append(pairs, envelope.Pair{Name: "vuk", Value: f.Vuk})
	}
	if f.Opt != "" {
		pairs = append(pairs, envelope.Pair{Name: "opt", Value: f.Opt})
	}
	if f.Btn != "" {
		pairs = append(pairs, envelope.Pair{Name: "btn", Value: f.Btn})
	}

	clientParam := envelope.Encode(envelope.FormatBlock(pairs))
	signed := []byte(clientParam + serverParam)

	form := url.Values{}
	form.Set("client", clientParam)
	form.Set("server", serverParam)
	form.Set("ids", envelope.Encode(ed25519.Sign(c.priv, signed)))
	if c.prevPriv != nil {
		form.Set("pids", envelope.Encode(ed25519.Sign(c.prevPriv, signed)))
	}
	return form
}
