package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the provider's delivery signature:
//
//	Latch-Signature: t=<unix seconds>,v1=<hex hmac-sha256>
//
// The MAC covers "<t>.<body>" so the timestamp cannot be swapped onto a
// replayed body.
const SignatureHeader = "Latch-Signature"

// ErrInvalidSignature covers every verification failure: bad format, stale
// timestamp, or MAC mismatch. Callers must not distinguish them to the
// sender.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign produces the signature header value for body at the given time.
// Shared with tests and the replay tooling.
func Sign(secret string, at time.Time, body []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeMAC(secret, ts, body)
}

// VerifySignature checks header against body. The timestamp must fall
// within tolerance of now in either direction.
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	ts, mac, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	issued := time.Unix(ts, 0)
	skew := now.Sub(issued)
	if skew < 0 {
		skew = -skew
	}
	if tolerance > 0 && skew > tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := computeMAC(secret, strconv.FormatInt(ts, 10), body)
	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}

func parseSignatureHeader(header string) (ts int64, mac string, err error) {
	if strings.TrimSpace(header) == "" {
		return 0, "", fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, "", fmt.Errorf("%w: malformed header", ErrInvalidSignature)
		}
		switch key {
		case "t":
			ts, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
		case "v1":
			mac = strings.ToLower(value)
		}
	}
	if ts == 0 || mac == "" {
		return 0, "", fmt.Errorf("%w: incomplete header", ErrInvalidSignature)
	}
	return ts, mac, nil
}

func computeMAC(secret, ts string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
