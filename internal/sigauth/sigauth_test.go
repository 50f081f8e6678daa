package sigauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return EncodePubkey(pub), priv
}

func TestVerify_RoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		pub, priv := newKey(t)
		body := make([]byte, i*7)
		_, _ = rand.Read(body)
		ts := strconv.Itoa(1700000000000 + i)

		sig := Sign(priv, ts, body)
		if !Verify(pub, sig, Message(ts, body)) {
			t.Fatalf("round trip %d failed", i)
		}
		if !Verify(strings.ToUpper(pub), strings.ToUpper(sig), Message(ts, body)) {
			t.Fatalf("round trip %d failed with uppercase hex", i)
		}
	}
}

func TestVerify_SignatureBitFlip(t *testing.T) {
	pub, priv := newKey(t)
	msg := Message("1700000000000", []byte(`{"task_id":"tk-1"}`))
	sig, _ := hex.DecodeString(Sign(priv, "1700000000000", []byte(`{"task_id":"tk-1"}`)))

	for bit := 0; bit < len(sig)*8; bit++ {
		flipped := append([]byte(nil), sig...)
		flipped[bit/8] ^= 1 << (bit % 8)
		if Verify(pub, hex.EncodeToString(flipped), msg) {
			t.Fatalf("flipping signature bit %d still verified", bit)
		}
	}
}

func TestVerify_BodyBitFlip(t *testing.T) {
	pub, priv := newKey(t)
	body := []byte(`{"task_id":"tk-1","success":true}`)
	sig := Sign(priv, "42", body)

	for bit := 0; bit < len(body)*8; bit++ {
		tampered := append([]byte(nil), body...)
		tampered[bit/8] ^= 1 << (bit % 8)
		if Verify(pub, sig, Message("42", tampered)) {
			t.Fatalf("flipping body bit %d still verified", bit)
		}
	}
}

func TestVerify_TimestampIsSigned(t *testing.T) {
	pub, priv := newKey(t)
	sig := Sign(priv, "1000", []byte("{}"))
	if Verify(pub, sig, Message("1001", []byte("{}"))) {
		t.Error("signature verified under a different timestamp")
	}
}

func TestVerify_MalformedInput(t *testing.T) {
	pub, priv := newKey(t)
	sig := Sign(priv, "1", nil)
	msg := Message("1", nil)

	for _, tc := range []struct {
		name     string
		pub, sig string
	}{
		{"Pubkey63", pub[:63], sig},
		{"Pubkey65", pub + "0", sig},
		{"PubkeyNonHex", "g" + pub[1:], sig},
		{"PubkeyEmpty", "", sig},
		{"Signature127", pub, sig[:127]},
		{"Signature129", pub, sig + "a"},
		{"SignatureNonHex", pub, sig[:127] + "z"},
		{"SignatureSpaces", pub, strings.Repeat(" ", 128)},
		{"Unicode", strings.Repeat("é", 32), sig},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if Verify(tc.pub, tc.sig, msg) {
				t.Errorf("Verify(%q, %q) = true", tc.pub, tc.sig)
			}
		})
	}
}

func TestVerify_WrongKey(t *testing.T) {
	_, priv := newKey(t)
	other, _ := newKey(t)
	sig := Sign(priv, "1", []byte("x"))
	if Verify(other, sig, Message("1", []byte("x"))) {
		t.Error("signature verified under the wrong key")
	}
}

func TestCheckTimestamp(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	for _, tc := range []struct {
		name string
		raw  string
		want error
	}{
		{"Now", Timestamp(now), nil},
		{"FourMinutesAgo", Timestamp(now.Add(-4 * time.Minute)), nil},
		{"FourMinutesAhead", Timestamp(now.Add(4 * time.Minute)), nil},
		{"ExactlyAtWindow", Timestamp(now.Add(-TimestampWindow)), nil},
		{"SixMinutesAgo", Timestamp(now.Add(-6 * time.Minute)), ErrTimestampExpired},
		{"SixMinutesAhead", Timestamp(now.Add(6 * time.Minute)), ErrTimestampExpired},
		{"JustPastWindow", strconv.FormatInt(now.Add(-TimestampWindow).UnixMilli()-1, 10), ErrTimestampExpired},
		{"NonNumeric", "yesterday", ErrTimestampInvalid},
		{"Empty", "", ErrTimestampInvalid},
		{"Float", "1700000000000.5", ErrTimestampInvalid},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := CheckTimestamp(tc.raw, now); !errors.Is(err, tc.want) {
				t.Errorf("CheckTimestamp(%q) = %v, want %v", tc.raw, err, tc.want)
			}
		})
	}
}

func TestSignRequest(t *testing.T) {
	pub, priv := newKey(t)
	body := []byte(`{"task_id":"tk-9"}`)
	now := time.Now()

	req := httptest.NewRequest("POST", "/v1/claim-task", nil)
	if Signed(req) {
		t.Fatal("unsigned request reported as signed")
	}
	SignRequest(req, priv, body, now)

	if !Signed(req) {
		t.Fatal("signed request missing headers")
	}
	if got := req.Header.Get(HeaderPubkey); got != pub {
		t.Errorf("pubkey header = %q, want %q", got, pub)
	}
	ts := req.Header.Get(HeaderTimestamp)
	if err := CheckTimestamp(ts, now); err != nil {
		t.Errorf("timestamp rejected: %v", err)
	}
	if !Verify(req.Header.Get(HeaderPubkey), req.Header.Get(HeaderSignature), Message(ts, body)) {
		t.Error("signed request does not verify")
	}
}
