package request

import (
	"crypto/ed25519"
	"net/url"
	"strconv"
	"strings"

	"github.com/erikmav/passport-sqrl/core/envelope"
	"github.com/erikmav/passport-sqrl/core/sqrlurl"
)

// Validate decodes the raw POST field map, verifies the envelope signatures,
// and returns the typed request. Every failure is a *ProtocolError carrying
// the HTTP status and failure kind for the engine to render.
func Validate(form url.Values) (*ClientRequest, error) {
	rawClient := form.Get("client")
	rawServer := form.Get("server")
	if rawClient == "" {
		return nil, NewProtocolError(KindMalformedEnvelope, "missing client field")
	}
	if rawServer == "" {
		return nil, NewProtocolError(KindMalformedEnvelope, "missing server field")
	}

	clientBytes, err := envelope.Decode(rawClient)
	if err != nil {
		return nil, WrapProtocolError(KindMalformedEnvelope, err, "undecodable client field")
	}
	fields, err := envelope.ParseBlock(clientBytes)
	if err != nil {
		return nil, WrapProtocolError(KindMalformedEnvelope, err, "unparseable client block")
	}

	req := &ClientRequest{
		RawClient:              rawClient,
		RawServer:              rawServer,
		IdentityKey:            fields["idk"],
		PreviousIdentityKey:    fields["pidk"],
		ServerUnlockKey:        fields["suk"],
		VerifyUnlockKey:        fields["vuk"],
		IndexSecret:            fields["ins"],
		PreviousIndexSecret:    fields["pins"],
		UnlockRequestSignature: form.Get("urs"),
	}

	ver, ok := fields["ver"]
	if !ok {
		return nil, NewProtocolError(KindMalformedEnvelope, "missing ver field")
	}
	req.ProtocolVersion, err = strconv.Atoi(ver)
	if err != nil {
		return nil, WrapProtocolError(KindUnsupportedVersion, err,
			"unparseable ver %q; this server only handles protocol revision 1", ver)
	}

	cmd, ok := fields["cmd"]
	if !ok {
		return nil, NewProtocolError(KindUnknownCommand, "missing cmd field")
	}
	req.Command, err = ParseCommand(cmd)
	if err != nil {
		return nil, WrapProtocolError(KindUnknownCommand, err, "unrecognized command")
	}

	if req.IdentityKey == "" {
		return nil, NewProtocolError(KindMissingIdentityKey, "missing idk field")
	}

	ids := form.Get("ids")
	if ids == "" {
		return nil, NewProtocolError(KindMissingSignature, "missing ids signature")
	}

	// Signatures cover the UTF-8 concatenation of the still-encoded client
	// and server strings.
	signed := []byte(rawClient + rawServer)
	if err := verifyKeySignature(req.IdentityKey, ids, signed); err != nil {
		return nil, WrapProtocolError(KindBadSignature, err, "ids verification failed")
	}
	if req.PreviousIdentityKey != "" {
		pids := form.Get("pids")
		if pids == "" {
			return nil, NewProtocolError(KindMissingSignature,
				"pidk present without pids signature")
		}
		if err := verifyKeySignature(req.PreviousIdentityKey, pids, signed); err != nil {
			return nil, WrapProtocolError(KindBadSignature, err, "pids verification failed")
		}
	}

	req.Nut, err = nutFromServerField(rawServer)
	if err != nil {
		return nil, err
	}

	if err := parseOptions(fields["opt"], req); err != nil {
		return nil, err
	}

	if btn, ok := fields["btn"]; ok {
		sel, err := strconv.Atoi(btn)
		if err != nil || sel < 1 || sel > 3 {
			return nil, NewProtocolError(KindMalformedEnvelope, "invalid btn selection %q", btn)
		}
		req.AskResponse = sel
	}

	return req, nil
}

// verifyKeySignature checks an Ed25519 signature, both carried in wire
// (base64url) form, over message.
func verifyKeySignature(key, sig string, message []byte) error {
	keyBytes, err := envelope.Decode(key)
	if err != nil {
		return err
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return NewProtocolError(KindBadSignature,
			"identity key is %d bytes, want %d", len(keyBytes), ed25519.PublicKeySize)
	}
	sigBytes, err := envelope.Decode(sig)
	if err != nil {
		return err
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return NewProtocolError(KindBadSignature,
			"signature is %d bytes, want %d", len(sigBytes), ed25519.SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(keyBytes), message, sigBytes) {
		return NewProtocolError(KindBadSignature, "ed25519 verification failed")
	}
	return nil
}

// nutFromServerField extracts the nut the client is replying against. The
// server= field echoes either the original sqrl:// URL or the previous
// server reply's name=value block.
func nutFromServerField(rawServer string) (string, error) {
	serverBytes, err := envelope.Decode(rawServer)
	if err != nil {
		return "", WrapProtocolError(KindMalformedServerField, err, "undecodable server field")
	}
	decoded := string(serverBytes)

	if strings.HasPrefix(decoded, "sqrl") {
		nut, err := sqrlurl.NutParam(decoded)
		if err != nil {
			return "", WrapProtocolError(KindMalformedServerField, err, "server url carries no nut")
		}
		return nut, nil
	}

	fields, err := envelope.ParseBlock(serverBytes)
	if err != nil {
		return "", WrapProtocolError(KindMalformedServerField, err, "unparseable server block")
	}
	nut, ok := fields["nut"]
	if !ok || nut == "" {
		return "", NewProtocolError(KindMalformedServerField, "server block carries no nut")
	}
	return nut, nil
}

// parseOptions interprets the ~-separated opt flag list. An unrecognized
// flag is fatal: silently ignoring a client's security request (e.g. a
// future lock mode) would be worse than refusing the message.
func parseOptions(opt string, req *ClientRequest) error {
	if opt == "" {
		return nil
	}
	for _, flag := range strings.Split(opt, "~") {
		switch flag {
		case "":
			// tolerate doubled separators
		case "sqrlonly":
			req.SQRLOnly = true
		case "hardlock":
			req.HardLock = true
		case "cps":
			req.ClientProvidedSession = true
		case "suk":
			req.ReturnSessionUnlockKey = true
		default:
			return NewProtocolError(KindUnknownOption, "unknown option flag %q", flag)
		}
	}
	return nil
}
