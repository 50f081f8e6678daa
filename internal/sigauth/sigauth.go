// Package sigauth implements Ed25519 request signing for agents: the
// canonical "{timestamp}:{body}" message, the format checks that precede
// verification, and the timestamp window that bounds replay.
package sigauth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Request headers carrying a signed request.
const (
	HeaderPubkey    = "X-Agent-Pubkey"
	HeaderSignature = "X-Agent-Signature"
	HeaderTimestamp = "X-Agent-Timestamp"
)

// TimestampWindow is the maximum drift, in either direction, between a
// request's timestamp and the server clock.
const TimestampWindow = 5 * time.Minute

// Hex lengths of an encoded public key and signature.
const (
	PubkeyHexLen    = 2 * ed25519.PublicKeySize
	SignatureHexLen = 2 * ed25519.SignatureSize
)

var (
	ErrTimestampInvalid = errors.New("invalid timestamp")
	ErrTimestampExpired = errors.New("request timestamp expired")
)

// Message returns the bytes covered by a request signature.
func Message(timestamp string, body []byte) []byte {
	msg := make([]byte, 0, len(timestamp)+1+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, ':')
	return append(msg, body...)
}

// isHex reports whether s is non-empty and made only of hex digits, either case.
func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ValidPubkey reports whether s is a well-formed hex-encoded public key.
func ValidPubkey(s string) bool {
	return len(s) == PubkeyHexLen && isHex(s)
}

// ValidSignature reports whether s is a well-formed hex-encoded signature.
func ValidSignature(s string) bool {
	return len(s) == SignatureHexLen && isHex(s)
}

// Verify reports whether signatureHex is a valid Ed25519 signature by
// pubkeyHex over message. Malformed input returns false before any curve
// arithmetic is attempted, and the reason is never exposed.
func Verify(pubkeyHex, signatureHex string, message []byte) bool {
	if !ValidPubkey(pubkeyHex) || !ValidSignature(signatureHex) {
		return false
	}
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}

// CheckTimestamp parses a decimal Unix millisecond timestamp and rejects it
// when it is further than TimestampWindow from now.
func CheckTimestamp(raw string, now time.Time) error {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ErrTimestampInvalid
	}
	drift := now.UnixMilli() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > TimestampWindow.Milliseconds() {
		return ErrTimestampExpired
	}
	return nil
}

// Timestamp formats t the way clients send it.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// EncodePubkey returns the lowercase hex form of pub.
func EncodePubkey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// Sign returns the hex signature over Message(timestamp, body).
func Sign(priv ed25519.PrivateKey, timestamp string, body []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, Message(timestamp, body)))
}

// SignRequest sets the three signing headers on req. body must be the exact
// bytes sent as the request payload.
func SignRequest(req *http.Request, priv ed25519.PrivateKey, body []byte, now time.Time) {
	ts := Timestamp(now)
	req.Header.Set(HeaderPubkey, EncodePubkey(priv.Public().(ed25519.PublicKey)))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(priv, ts, body))
}

// Signed reports whether req carries all three signing headers.
func Signed(req *http.Request) bool {
	return req.Header.Get(HeaderPubkey) != "" &&
		req.Header.Get(HeaderSignature) != "" &&
		req.Header.Get(HeaderTimestamp) != ""
}
