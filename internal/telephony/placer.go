// Package telephony talks to the telephony provider: it places outbound calls
// through the Twilio REST API and renders conversation turns as TwiML.
package telephony

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/yegors/co-call/pkg/logger"
)

// StatusCallbackEvents are the call progress events the provider reports to
// the status callback
var StatusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// Config is the [twilio] configuration section
type Config struct {
	AccountSID         string `toml:"account_sid"`
	AuthToken          string `toml:"auth_token"`
	PhoneNumber        string `toml:"phone_number"`
	Voice              string `toml:"voice"`
	Language           string `toml:"language"`
	PauseSeconds       int    `toml:"pause_seconds"`
	ValidateSignatures bool   `toml:"validate_signatures"`
}

// Placer initiates outbound calls
type Placer interface {
	PlaceCall(ctx context.Context, to, callbackURL, statusURL string) (string, error)
}

// PlacementError is returned when the provider refuses or fails to place a call.
// Message is the provider's human-readable description.
type PlacementError struct {
	Code    int
	Status  int
	Message string
	Err     error
}

func (e *PlacementError) Error() string {
	return e.Message
}

func (e *PlacementError) Unwrap() error { return e.Err }

// callCreator is the slice of the Twilio API service used to place calls
type callCreator interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioPlacer places calls with the Twilio REST API
type TwilioPlacer struct {
	api    callCreator
	from   string
	logger *logger.Logger
}

// NewTwilioPlacer creates a placer from account credentials
func NewTwilioPlacer(config Config, log *logger.Logger) (*TwilioPlacer, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, errors.New("twilio account SID and auth token are required")
	}
	if config.PhoneNumber == "" {
		return nil, errors.New("twilio phone number is required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})

	return newTwilioPlacer(client.Api, config.PhoneNumber, log), nil
}

func newTwilioPlacer(api callCreator, from string, log *logger.Logger) *TwilioPlacer {
	return &TwilioPlacer{
		api:    api,
		from:   from,
		logger: log.Named("twilio-placer"),
	}
}

// PlaceCall asks the provider to dial to. The provider fetches callbackURL once
// the call connects and posts progress to statusURL when it is non-empty.
func (p *TwilioPlacer) PlaceCall(ctx context.Context, to, callbackURL, statusURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &PlacementError{Message: err.Error(), Err: err}
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(p.from)
	params.SetUrl(callbackURL)
	params.SetMethod("POST")
	if statusURL != "" {
		params.SetStatusCallback(statusURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent(StatusCallbackEvents)
	}

	call, err := p.api.CreateCall(params)
	if err != nil {
		placementErr := &PlacementError{Message: err.Error(), Err: err}
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) {
			placementErr.Code = restErr.Code
			placementErr.Status = restErr.Status
			placementErr.Message = restErr.Message
		}
		p.logger.Error("Failed to place call",
			logger.String("to", to),
			logger.Int("code", placementErr.Code),
			logger.Int("status", placementErr.Status),
			logger.Error(err))
		return "", placementErr
	}

	if call == nil || call.Sid == nil || *call.Sid == "" {
		return "", &PlacementError{Message: "provider returned a call without a SID"}
	}

	p.logger.Info("Call placed",
		logger.String("call_sid", *call.Sid),
		logger.String("to", to))

	return *call.Sid, nil
}
