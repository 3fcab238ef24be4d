// Package crypto provides the request signing used by the venue connectors:
// HMAC authentication for the Bybit v5 API and EIP-712 wallet signing for
// the Hyperliquid exchange endpoint.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// HMACAuth holds Bybit API credentials.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// V5Headers returns the authentication headers for a Bybit v5 request.
// The signature is HMAC-SHA256(secret, timestamp+key+recvWindow+payload)
// hex-encoded, where payload is the query string for GET requests and the
// raw JSON body for POST requests.
//
// Returned header keys:
//   - X-BAPI-API-KEY
//   - X-BAPI-TIMESTAMP
//   - X-BAPI-RECV-WINDOW
//   - X-BAPI-SIGN
func (h *HMACAuth) V5Headers(payload string, recvWindowMillis int) map[string]string {
	ts := currentTimestampMillis()
	recvWindow := strconv.Itoa(recvWindowMillis)

	message := ts + h.Key + recvWindow + payload
	sig := hmacSHA256Hex([]byte(h.Secret), message)

	return map[string]string{
		"X-BAPI-API-KEY":     h.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": recvWindow,
		"X-BAPI-SIGN":        sig,
	}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result hex-encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// currentTimestampMillis returns the current Unix time in milliseconds as a
// decimal string.
func currentTimestampMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
