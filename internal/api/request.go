package api

import (
	"fmt"

	"github.com/Checker-Finance/investec-adapter/internal/investec"
)

// AccessBankingRequest is the body of POST /api/v1/access-banking.
type AccessBankingRequest struct {
	ClientID    string          `json:"clientId"`
	Destination string          `json:"destination"`
	Params      investec.Params `json:"params"`
}

// Validate checks that the request names a client and a destination.
func (r *AccessBankingRequest) Validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if r.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	return nil
}
