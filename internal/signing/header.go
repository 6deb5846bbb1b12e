package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedHeader = errors.New("malformed authorization header")

// AuthHeader is the parsed form of an inbound Authorization header.
type AuthHeader struct {
	SubscriberID string
	UniqueKeyID  string
	Algorithm    string
	Created      int64
	Expires      int64
	Signature    []byte
}

// ParseAuthorizationHeader decodes a `Signature ...` header into its parts.
func ParseAuthorizationHeader(header string) (*AuthHeader, error) {
	header = strings.TrimSpace(header)
	const scheme = "Signature "
	if !strings.HasPrefix(header, scheme) {
		return nil, ErrMalformedHeader
	}
	params := map[string]string{}
	for _, part := range splitHeaderParams(header[len(scheme):]) {
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			return nil, ErrMalformedHeader
		}
		key := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		params[key] = strings.Trim(value, `"`)
	}

	keyID := strings.Split(params["keyId"], "|")
	if len(keyID) != 3 {
		return nil, ErrMalformedHeader
	}
	created, err := strconv.ParseInt(params["created"], 10, 64)
	if err != nil {
		return nil, ErrMalformedHeader
	}
	expires, err := strconv.ParseInt(params["expires"], 10, 64)
	if err != nil {
		return nil, ErrMalformedHeader
	}
	sig, err := base64.StdEncoding.DecodeString(params["signature"])
	if err != nil || len(sig) == 0 {
		return nil, ErrMalformedHeader
	}
	return &AuthHeader{
		SubscriberID: keyID[0],
		UniqueKeyID:  keyID[1],
		Algorithm:    keyID[2],
		Created:      created,
		Expires:      expires,
		Signature:    sig,
	}, nil
}

// VerifyAuthorizationHeader checks an inbound header against the sender's
// published signing key: the validity window must contain now and the
// signature must cover the exact received body bytes.
func VerifyAuthorizationHeader(header string, body []byte, senderKey ed25519.PublicKey, now time.Time) (*AuthHeader, error) {
	parsed, err := ParseAuthorizationHeader(header)
	if err != nil {
		return nil, err
	}
	if parsed.Algorithm != SigningAlgorithm {
		return nil, ErrMalformedHeader
	}
	ts := now.Unix()
	if ts < parsed.Created || ts > parsed.Expires {
		return parsed, ErrSignatureExpired
	}
	signed := []byte(SigningString(parsed.Created, parsed.Expires, Digest(body)))
	if !ed25519.Verify(senderKey, signed, parsed.Signature) {
		return parsed, ErrInvalidSignature
	}
	return parsed, nil
}

// splitHeaderParams splits on commas that are not inside quoted values.
func splitHeaderParams(s string) []string {
	var parts []string
	var quoted bool
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
