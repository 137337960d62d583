package investec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/httpclient"
)

// Result is the outcome of one AccessBanking call. Failures are carried in Err
// rather than returned separately, so callers can forward a Result as-is.
type Result struct {
	Destination Destination     `json:"destination"`
	URL         string          `json:"url,omitempty"`
	StatusCode  int             `json:"status,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Err         error           `json:"-"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Decode unmarshals the body into out, or returns Err.
func (r Result) Decode(out any) error {
	if r.Err != nil {
		return r.Err
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.Destination, err)
	}
	return nil
}

// AccessBanking looks up destination by name, builds its URL from p and performs
// the authenticated GET. The JSON body is passed through untouched. A 4xx from a
// banking endpoint keeps its status and body alongside Err.
func (c *Client) AccessBanking(ctx context.Context, destination string, p Params) Result {
	d, err := ParseDestination(destination)
	if err != nil {
		return Result{Destination: Destination(destination), Err: err}
	}

	res := Result{Destination: d}
	res.URL, res.Err = BuildURL(c.cfg.BaseURL, d, p)
	if res.Err != nil {
		return res
	}

	resp, err := c.Get(httpclient.WithOperation(ctx, d.String()), res.URL)
	if err != nil {
		c.logger.Warn("investec.access_banking.failed",
			zap.String("client", c.key),
			zap.String("destination", d.String()),
			zap.Error(err))
		res.Err = fmt.Errorf("%s: %w", d, err)

		var apiErr *APIError
		if !errors.Is(err, ErrAuthFailed) && errors.As(err, &apiErr) {
			res.StatusCode = apiErr.StatusCode
			if json.Valid(apiErr.Body) {
				res.Body = json.RawMessage(apiErr.Body)
			}
		}
		return res
	}

	res.StatusCode = resp.StatusCode
	res.Body = json.RawMessage(resp.Body)
	return res
}

// Accounts is AccessBanking for DestinationAccounts.
func (c *Client) Accounts(ctx context.Context) Result {
	return c.AccessBanking(ctx, DestinationAccounts.String(), Params{})
}

// AccountTransactions is AccessBanking for DestinationAccountTransactions.
func (c *Client) AccountTransactions(ctx context.Context, p Params) Result {
	return c.AccessBanking(ctx, DestinationAccountTransactions.String(), p)
}

// AccountBalance is AccessBanking for DestinationAccountBalance.
func (c *Client) AccountBalance(ctx context.Context, accountID string) Result {
	return c.AccessBanking(ctx, DestinationAccountBalance.String(), Params{AccountID: accountID})
}
