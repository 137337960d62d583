package investec

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ClientConfig holds the credentials and endpoint for one Investec client.
// Resolved per client from AWS Secrets Manager (see internal/secrets).
type ClientConfig struct {
	// Token is the pre-shared Basic auth material, sent verbatim.
	Token string `json:"token"`
	// ClientID and ClientSecret derive the Basic material when Token is empty.
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	// APIKey is sent as x-api-key when set.
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// BasicToken returns the Basic auth material for the token exchange.
func (c ClientConfig) BasicToken() string {
	if c.Token != "" {
		return c.Token
	}
	if c.ClientID == "" && c.ClientSecret == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.ClientSecret))
}

// Validate checks that some Basic material and a base URL are present.
func (c ClientConfig) Validate() error {
	if c.BasicToken() == "" {
		return fmt.Errorf("missing credentials: token or client_id/client_secret required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("missing base_url")
	}
	return nil
}

// TokenResponse is the body of POST /identity/v2/oauth2/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Session is the bearer state obtained from the token exchange.
// AccessToken may be empty when the identity server omitted it.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int       `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
}

// ExpiresAt is IssuedAt plus the advertised lifetime.
func (s Session) ExpiresAt() time.Time {
	return s.IssuedAt.Add(time.Duration(s.ExpiresIn) * time.Second)
}

// Valid reports whether the session can still be used at now, leaving buffer spare.
func (s Session) Valid(now time.Time, buffer time.Duration) bool {
	if s.AccessToken == "" || s.ExpiresIn <= 0 {
		return false
	}
	return now.Before(s.ExpiresAt().Add(-buffer))
}

// ErrorResponse covers the error bodies returned by the identity and banking APIs.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// APIError is a 4xx answer from Investec. Body holds the raw response.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("investec returned %d: %s", e.StatusCode, e.Message)
}

// Links and Meta accompany every banking response.
type Links struct {
	Self string `json:"self"`
}

type Meta struct {
	TotalPages int `json:"totalPages"`
}

// Account is one entry of GET /za/pb/v1/accounts.
type Account struct {
	AccountID     string `json:"accountId"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	ReferenceName string `json:"referenceName"`
	ProductName   string `json:"productName"`
	KYCCompliant  bool   `json:"kycCompliant"`
	ProfileID     string `json:"profileId"`
	ProfileName   string `json:"profileName"`
}

type AccountsResponse struct {
	Data struct {
		Accounts []Account `json:"accounts"`
	} `json:"data"`
	Links Links `json:"links"`
	Meta  Meta  `json:"meta"`
}

// Transaction is one entry of GET /za/pb/v1/accounts/{id}/transactions.
type Transaction struct {
	AccountID       string          `json:"accountId"`
	Type            string          `json:"type"`
	TransactionType string          `json:"transactionType"`
	Status          string          `json:"status"`
	Description     string          `json:"description"`
	CardNumber      string          `json:"cardNumber"`
	PostedOrder     int             `json:"postedOrder"`
	PostingDate     string          `json:"postingDate"`
	ValueDate       string          `json:"valueDate"`
	ActionDate      string          `json:"actionDate"`
	TransactionDate string          `json:"transactionDate"`
	Amount          decimal.Decimal `json:"amount"`
	RunningBalance  decimal.Decimal `json:"runningBalance"`
}

type TransactionsResponse struct {
	Data struct {
		Transactions []Transaction `json:"transactions"`
	} `json:"data"`
	Links Links `json:"links"`
	Meta  Meta  `json:"meta"`
}

// Balance is the body of GET /za/pb/v1/accounts/{id}/balance.
type Balance struct {
	AccountID        string          `json:"accountId"`
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	BudgetBalance    decimal.Decimal `json:"budgetBalance"`
	StraightBalance  decimal.Decimal `json:"straightBalance"`
	CashBalance      decimal.Decimal `json:"cashBalance"`
	Currency         string          `json:"currency"`
}

type BalanceResponse struct {
	Data  Balance `json:"data"`
	Links Links   `json:"links"`
	Meta  Meta    `json:"meta"`
}
