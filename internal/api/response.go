package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/investec-adapter/internal/investec"
	"github.com/Checker-Finance/investec-adapter/pkg/model"
)

// ErrorResponse is returned for failed banking calls.
type ErrorResponse struct {
	Destination string `json:"destination,omitempty"`
	URL         string `json:"url,omitempty"`
	ErrorMsg    string `json:"errorMessage"`
}

// BalancesResponse lists stored balance snapshots for a client.
type BalancesResponse struct {
	ClientID string                  `json:"clientId"`
	Balances []model.BalanceSnapshot `json:"balances"`
}

// statusFor maps a dispatch error to an HTTP status: caller mistakes are 400,
// Investec 4xx answers from banking endpoints keep their status, anything else
// (including a refused token exchange) is a bad gateway.
func statusFor(err error) int {
	var apiErr *investec.APIError
	switch {
	case errors.Is(err, investec.ErrUnknownDestination),
		errors.Is(err, investec.ErrMissingAccountID),
		errors.Is(err, investec.ErrInvalidDate):
		return fiber.StatusBadRequest
	case errors.Is(err, investec.ErrAuthFailed):
		return fiber.StatusBadGateway
	case errors.As(err, &apiErr):
		return apiErr.StatusCode
	default:
		return fiber.StatusBadGateway
	}
}

// writeResult passes a successful body through untouched.
func writeResult(c *fiber.Ctx, res investec.Result) error {
	if res.Err != nil {
		return c.Status(statusFor(res.Err)).JSON(ErrorResponse{
			Destination: res.Destination.String(),
			URL:         res.URL,
			ErrorMsg:    res.Err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(res.StatusCode).Send(res.Body)
}
