package provider

import (
	"encoding/json"
	"fmt"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

// cnEnvelope matches the {error_code, error_description, data} shape CN
// endpoints use. error_code == 0 is success.
type cnEnvelope struct {
	ErrorCode        int             `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	Data             json.RawMessage `json:"data"`
}

// CNValidator validates the CN provider envelope.
type CNValidator struct{}

// Validate implements domain.EnvelopeValidator for the CN envelope shape.
func (CNValidator) Validate(body []byte) (json.RawMessage, domain.ErrorKind, string, bool) {
	var env cnEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.ErrProviderError, fmt.Sprintf("cn envelope decode: %v", err), false
	}
	if env.ErrorCode != 0 {
		return nil, domain.ErrProviderError, fmt.Sprintf("cn error_code=%d: %s", env.ErrorCode, env.ErrorDescription), false
	}
	return env.Data, "", "", true
}

// usHKEnvelope matches the {code, message, data} shape US/HK endpoints use.
// code == "0" or code == 0 is success; both forms appear across endpoints so
// Code is decoded permissively as json.Number.
type usHKEnvelope struct {
	Code    json.Number     `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// USHKValidator validates the shared US/HK envelope shape.
type USHKValidator struct{}

// Validate implements domain.EnvelopeValidator for the US/HK envelope shape.
func (USHKValidator) Validate(body []byte) (json.RawMessage, domain.ErrorKind, string, bool) {
	var env usHKEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.ErrProviderError, fmt.Sprintf("us/hk envelope decode: %v", err), false
	}
	if env.Code.String() != "" && env.Code.String() != "0" {
		return nil, domain.ErrProviderError, fmt.Sprintf("us/hk code=%s: %s", env.Code.String(), env.Message), false
	}
	return env.Data, "", "", true
}

// ValidatorFor returns the envelope validator for a market.
func ValidatorFor(market domain.Market) domain.EnvelopeValidator {
	switch market {
	case domain.MarketCN:
		return CNValidator{}
	default:
		return USHKValidator{}
	}
}
