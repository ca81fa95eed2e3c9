// Package webhooksig verifies inbound webhook signatures using the
// algorithm each channel kind mandates (HMAC-SHA256 for POS and online
// store, HMAC-SHA1 for the delivery marketplace).
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// VerifyHexSHA256 checks a hex-encoded HMAC-SHA256 signature, the scheme
// used by POS and online-store channel webhooks.
func VerifyHexSHA256(secret, body []byte, signatureHex string) error {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signatureHex)) {
		return fmt.Errorf("webhook signature mismatch")
	}
	return nil
}

// VerifyBase64SHA1 checks a base64-encoded HMAC-SHA1 signature, the
// scheme used by delivery-marketplace channel webhooks.
func VerifyBase64SHA1(secret, body []byte, signatureB64 string) error {
	mac := hmac.New(sha1.New, secret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signatureB64)) {
		return fmt.Errorf("webhook signature mismatch")
	}
	return nil
}
