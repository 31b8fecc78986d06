// Package webhook implements signed delivery of domain events to external
// subscriber endpoints: signature construction, the per-endpoint delivery
// client, and the fan-out dispatcher.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Signature header wire contract:
//
//	X-Signature: t=<unix seconds>,v1=<hex HMAC-SHA256 of "{ts}.{body}">
//
// The body is signed exactly as sent; callers must not re-serialize between
// signing and sending.

func hmacHex(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign builds the X-Signature header value for one payload.
func Sign(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, hmacHex(secret, ts, body))
}

// Verify checks a received X-Signature header against the payload. Used by
// subscriber-side tests and manual debugging; the engine itself only signs.
func Verify(secret, header string, body []byte) bool {
	var ts int64
	var v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return false
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			ts = n
		case "v1":
			v1 = v
		}
	}
	if ts == 0 || v1 == "" {
		return false
	}
	expected := hmacHex(secret, ts, body)
	return hmac.Equal([]byte(expected), []byte(v1))
}
