package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// APIPrefix is prepended to every endpoint path inside the signed message.
const APIPrefix = "/api/v4"

// GateAuth holds the credentials required for signed Gate API v4 requests.
type GateAuth struct {
	Key    string
	Secret string
}

// Headers returns the HTTP headers for a signed request.
// The signature is HMAC-SHA512(secret, method\nprefix+path\nquery\nhex(sha512(body))\nts)
// encoded as lowercase hex. query must already be URL-encoded with sorted keys.
//
// Returned header keys:
//   - KEY
//   - Timestamp
//   - SIGN
func (g *GateAuth) Headers(method, path, query string, body []byte) map[string]string {
	return g.HeadersAt(method, path, query, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (g *GateAuth) HeadersAt(method, path, query string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		"KEY":       g.Key,
		"Timestamp": ts,
		"SIGN":      g.Sign(method, path, query, body, ts),
	}
}

// Sign computes the hex signature over the canonical request string.
func (g *GateAuth) Sign(method, path, query string, body []byte, ts string) string {
	bodyHash := sha512.Sum512(body)
	message := method + "\n" + APIPrefix + path + "\n" + query + "\n" + hex.EncodeToString(bodyHash[:]) + "\n" + ts
	return hmacSHA512Hex([]byte(g.Secret), message)
}

// hmacSHA512Hex computes HMAC-SHA512 of message using key and returns the
// result as lowercase hex.
func hmacSHA512Hex(key []byte, message string) string {
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (g *GateAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("GateAuth{key=%s, secret=%s}", redact(g.Key), redact(g.Secret))
}
