package telephony

import (
	"net/url"
	"strings"

	twclient "github.com/twilio/twilio-go/client"
	"github.com/yegors/co-call/internal/calls"
)

// NormalizeStatus maps a provider CallStatus value onto a call status. The
// provider reports "queued" before dialing, which counts as initiated.
func NormalizeStatus(providerStatus string) (calls.Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(providerStatus))
	switch normalized {
	case "queued":
		return calls.StatusInitiated, nil
	case "answered":
		return calls.StatusInProgress, nil
	}
	return calls.ParseStatus(normalized)
}

// SignatureValidator checks the X-Twilio-Signature header of inbound webhooks
type SignatureValidator struct {
	validator twclient.RequestValidator
}

// NewSignatureValidator creates a validator for the account's auth token
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twclient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the full request URL and form
// parameters. Repeated form keys keep their first value.
func (v *SignatureValidator) Validate(fullURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for key := range form {
		params[key] = form.Get(key)
	}
	return v.validator.Validate(fullURL, params, signature)
}
