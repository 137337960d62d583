package investec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production open-API host.
	DefaultBaseURL = "https://openapi.investec.com"
	// BankingPath is the private banking API root (domain za, api pb, version v1).
	BankingPath = "/za/pb/v1"

	dateLayout = "2006-01-02"
)

// Destination names a banking endpoint reachable through AccessBanking.
type Destination string

const (
	DestinationAccounts            Destination = "accounts"
	DestinationAccountTransactions Destination = "account_transactions"
	DestinationAccountBalance      Destination = "account_balance"
)

var (
	// ErrUnknownDestination is returned for names outside the destination set.
	ErrUnknownDestination = errors.New("unknown destination")
	// ErrMissingAccountID is returned when an account-scoped destination has no account id.
	ErrMissingAccountID = errors.New("accountId is required")
	// ErrInvalidDate is wrapped by date parameters that are not YYYY-MM-DD.
	ErrInvalidDate = errors.New("expected YYYY-MM-DD")
)

// Destinations lists every supported destination.
func Destinations() []Destination {
	return []Destination{DestinationAccounts, DestinationAccountTransactions, DestinationAccountBalance}
}

// ParseDestination maps a name to a Destination.
func ParseDestination(name string) (Destination, error) {
	d := Destination(strings.TrimSpace(name))
	if _, ok := urlBuilders[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDestination, name)
	}
	return d, nil
}

func (d Destination) String() string {
	return string(d)
}

// Params are the inputs a destination may need.
type Params struct {
	AccountID       string `json:"accountId,omitempty"`
	FromDate        string `json:"fromDate,omitempty"`
	ToDate          string `json:"toDate,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`
}

// Validate checks date formats (YYYY-MM-DD).
func (p Params) Validate() error {
	if err := checkDate("fromDate", p.FromDate); err != nil {
		return err
	}
	return checkDate("toDate", p.ToDate)
}

func checkDate(name, v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, v); err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, ErrInvalidDate)
	}
	return nil
}

type urlBuilder func(base string, p Params) (string, error)

var urlBuilders = map[Destination]urlBuilder{
	DestinationAccounts: func(base string, _ Params) (string, error) {
		return AccountsURL(base), nil
	},
	DestinationAccountTransactions: func(base string, p Params) (string, error) {
		return AccountTransactionsURL(base, p)
	},
	DestinationAccountBalance: func(base string, p Params) (string, error) {
		return AccountBalanceURL(base, p.AccountID)
	},
}

// BuildURL resolves the URL for d against base.
func BuildURL(base string, d Destination, p Params) (string, error) {
	build, ok := urlBuilders[d]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDestination, string(d))
	}
	return build(strings.TrimRight(base, "/"), p)
}

// AccountsURL is GET /za/pb/v1/accounts.
func AccountsURL(base string) string {
	return base + BankingPath + "/accounts"
}

// AccountTransactionsURL is GET /za/pb/v1/accounts/{accountId}/transactions
// with optional fromDate, toDate and transactionType query parameters.
func AccountTransactionsURL(base string, p Params) (string, error) {
	if p.AccountID == "" {
		return "", ErrMissingAccountID
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	u := accountURL(base, p.AccountID) + "/transactions"

	q := url.Values{}
	if p.FromDate != "" {
		q.Set("fromDate", p.FromDate)
	}
	if p.ToDate != "" {
		q.Set("toDate", p.ToDate)
	}
	if p.TransactionType != "" {
		q.Set("transactionType", p.TransactionType)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u, nil
}

// AccountBalanceURL is GET /za/pb/v1/accounts/{accountId}/balance.
func AccountBalanceURL(base, accountID string) (string, error) {
	if accountID == "" {
		return "", ErrMissingAccountID
	}
	return accountURL(base, accountID) + "/balance", nil
}

func accountURL(base, accountID string) string {
	return AccountsURL(base) + "/" + url.PathEscape(accountID)
}
