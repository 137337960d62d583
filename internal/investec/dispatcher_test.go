package investec

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ReauthenticatesEveryCall(t *testing.T) {
	srv := newMockInvestec(t)
	c := newTestClient(t, srv.URL)

	for i := 0; i < 3; i++ {
		resp, err := c.Get(context.Background(), AccountsURL(srv.URL))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.EqualValues(t, 3, srv.tokenCalls.Load())

	req := srv.lastRequest(http.MethodGet)
	require.NotNil(t, req)
	assert.Equal(t, "Bearer "+testBearer, req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "test-api-key", req.Header.Get("x-api-key"))
}

func TestAccessBanking_Accounts(t *testing.T) {
	srv := newMockInvestec(t)
	c := newTestClient(t, srv.URL)

	res := c.AccessBanking(context.Background(), "accounts", Params{})
	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.Equal(t, DestinationAccounts, res.Destination)
	assert.Equal(t, srv.URL+"/za/pb/v1/accounts", res.URL)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var out AccountsResponse
	require.NoError(t, res.Decode(&out))
	require.Len(t, out.Data.Accounts, 2)
	assert.Equal(t, "acc-1", out.Data.Accounts[0].AccountID)
	assert.True(t, out.Data.Accounts[0].KYCCompliant)
	assert.Equal(t, 1, out.Meta.TotalPages)
}

func TestAccessBanking_TransactionsForwardsQuery(t *testing.T) {
	srv := newMockInvestec(t)
	c := newTestClient(t, srv.URL)

	res := c.AccountTransactions(context.Background(), Params{
		AccountID: "acc-1", FromDate: "2026-01-01", ToDate: "2026-01-31", TransactionType: "CardPurchases",
	})
	require.NoError(t, res.Err)

	req := srv.lastRequest(http.MethodGet)
	assert.Equal(t, "/za/pb/v1/accounts/acc-1/transactions", req.URL.Path)
	assert.Equal(t, "2026-01-01", req.URL.Query().Get("fromDate"))
	assert.Equal(t, "2026-01-31", req.URL.Query().Get("toDate"))
	assert.Equal(t, "CardPurchases", req.URL.Query().Get("transactionType"))

	var out TransactionsResponse
	require.NoError(t, res.Decode(&out))
	require.Len(t, out.Data.Transactions, 1)
	assert.True(t, decimal.RequireFromString("45.5").Equal(out.Data.Transactions[0].Amount))
}

func TestAccessBanking_Balance(t *testing.T) {
	srv := newMockInvestec(t)
	c := newTestClient(t, srv.URL)

	res := c.AccountBalance(context.Background(), "acc-9")
	require.NoError(t, res.Err)

	var out BalanceResponse
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "acc-9", out.Data.AccountID)
	assert.Equal(t, "ZAR", out.Data.Currency)
	assert.True(t, decimal.RequireFromString("2000.25").Equal(out.Data.CurrentBalance))
}

// ─── Errors are returned as values ────────────────────────────────────────────

func TestAccessBanking_UnknownDestination(t *testing.T) {
	srv := newMockInvestec(t)
	c := newTestClient(t, srv.URL)

	res := c.AccessBanking(context.Background(), "cards", Params{})
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrUnknownDestination)
	assert.EqualValues(t, 0, srv.tokenCalls.Load(), "nothing is sent for an unknown destination")
}

func TestAccessBanking_MissingAccountID(t *testing.T) {
	srv := newMockInvestec(t)
	c := newTestClient(t, srv.URL)

	for _, d := range []Destination{DestinationAccountTransactions, DestinationAccountBalance} {
		res := c.AccessBanking(context.Background(), d.String(), Params{})
		assert.ErrorIs(t, res.Err, ErrMissingAccountID, d)
	}
	assert.EqualValues(t, 0, srv.tokenCalls.Load())
}

func TestAccessBanking_HTTPErrorReturnedInResult(t *testing.T) {
	srv := newMockInvestec(t)
	c := newTestClient(t, srv.URL)

	res := c.AccountBalance(context.Background(), "missing")
	require.Error(t, res.Err)

	var apiErr *APIError
	require.True(t, errors.As(res.Err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "account not found", apiErr.Message)
	assert.Contains(t, res.Err.Error(), "account_balance")
	assert.Equal(t, http.StatusNotFound, res.StatusCode, "upstream status is kept")
	assert.JSONEq(t, `{"message":"account not found"}`, string(res.Body))

	var out BalanceResponse
	assert.Equal(t, res.Err, res.Decode(&out))
}

func TestAccessBanking_AuthFailureReturnedInResult(t *testing.T) {
	srv := newMockInvestec(t)
	srv.tokenStatus = http.StatusUnauthorized
	c := newTestClient(t, srv.URL)

	res := c.Accounts(context.Background())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "investec auth")
	assert.ErrorIs(t, res.Err, ErrAuthFailed)
	assert.True(t, CredentialsRejected(res.Err))
	assert.Zero(t, res.StatusCode, "token endpoint status is not the banking status")
	assert.Empty(t, res.Body)
	assert.Nil(t, srv.lastRequest(http.MethodGet), "no banking call without a session")
}

func TestAccessBanking_TransportFailureReturnedInResult(t *testing.T) {
	srv := newMockInvestec(t)
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := c.Accounts(ctx)
	assert.Error(t, res.Err)
	assert.Empty(t, res.Body)
}
