package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Header names read by the gateway.
const (
	HeaderPagerDutySignature = "X-PagerDuty-Signature"
	HeaderWebhookSecret      = "X-Merlinn-Webhook-Secret"
	HeaderOrganization       = "X-Merlinn-Organization"
	QueryOrganization        = "organization"
)

var errBadSignature = errors.New("invalid vendor signature")

// SignatureVerifier checks a vendor's own request signature.
type SignatureVerifier interface {
	Verify(header http.Header, body []byte) error
}

// VerifierFunc adapts a function into a SignatureVerifier.
type VerifierFunc func(header http.Header, body []byte) error

func (f VerifierFunc) Verify(header http.Header, body []byte) error { return f(header, body) }

// AcceptAll is used for vendors that do not sign their webhooks.
var AcceptAll = VerifierFunc(func(http.Header, []byte) error { return nil })

// PagerDutyVerifier checks X-PagerDuty-Signature, a comma separated list of
// "v1=<hex hmac-sha256>" values; any match passes. With an empty secret
// signatures are not checked.
func PagerDutyVerifier(secret string) SignatureVerifier {
	if secret == "" {
		slog.Warn("PagerDuty signing secret not configured, signatures will not be verified")
		return AcceptAll
	}
	key := []byte(secret)
	return VerifierFunc(func(header http.Header, body []byte) error {
		mac := hmac.New(sha256.New, key)
		mac.Write(body)
		expected := mac.Sum(nil)

		for _, sig := range strings.Split(header.Get(HeaderPagerDutySignature), ",") {
			hexSig, ok := strings.CutPrefix(strings.TrimSpace(sig), "v1=")
			if !ok {
				continue
			}
			got, err := hex.DecodeString(hexSig)
			if err != nil {
				continue
			}
			if hmac.Equal(got, expected) {
				return nil
			}
		}
		return errBadSignature
	})
}

// SignPagerDuty returns the header value PagerDuty would send for body.
func SignPagerDuty(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}
