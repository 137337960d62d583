package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/investec"
	"github.com/Checker-Finance/investec-adapter/pkg/model"
)

// BankingService is the dispatch surface used by the handler.
type BankingService interface {
	AccessBanking(ctx context.Context, clientID, destination string, p investec.Params) investec.Result
}

// BalanceReader serves stored balance snapshots. GetBalance returns (nil, nil)
// when nothing is cached for the account.
type BalanceReader interface {
	GetBalance(ctx context.Context, clientID, venue, accountID string) (*model.BalanceSnapshot, error)
	GetClientBalances(ctx context.Context, clientID string) ([]model.BalanceSnapshot, error)
}

// ClientValidator checks whether a client ID is configured and allowed.
type ClientValidator interface {
	IsKnownClient(ctx context.Context, clientID string) bool
}

// BankingHandler handles HTTP API requests for Investec banking data.
type BankingHandler struct {
	logger    *zap.Logger
	venue     string
	service   BankingService
	balances  BalanceReader
	validator ClientValidator
}

// NewBankingHandler creates a BankingHandler. balances and validator may be nil.
func NewBankingHandler(logger *zap.Logger, venue string, service BankingService, balances BalanceReader, validator ClientValidator) *BankingHandler {
	return &BankingHandler{
		logger:    logger,
		venue:     venue,
		service:   service,
		balances:  balances,
		validator: validator,
	}
}

func (h *BankingHandler) knownClient(c *fiber.Ctx, clientID string) bool {
	return h.validator == nil || h.validator.IsKnownClient(c.UserContext(), clientID)
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "unknown or unauthorized clientId"})
}

func (h *BankingHandler) dispatch(c *fiber.Ctx, clientID, destination string, p investec.Params) error {
	if !h.knownClient(c, clientID) {
		return forbidden(c)
	}

	res := h.service.AccessBanking(c.UserContext(), clientID, destination, p)
	if res.Err != nil {
		h.logger.Warn("investec.api.access_banking_failed",
			zap.String("client", clientID),
			zap.String("destination", destination),
			zap.Error(res.Err))
	}
	return writeResult(c, res)
}

// ListAccounts handles GET /api/v1/clients/:clientId/accounts.
func (h *BankingHandler) ListAccounts(c *fiber.Ctx) error {
	return h.dispatch(c, c.Params("clientId"), investec.DestinationAccounts.String(), investec.Params{})
}

// ListTransactions handles GET /api/v1/clients/:clientId/accounts/:accountId/transactions.
func (h *BankingHandler) ListTransactions(c *fiber.Ctx) error {
	p := investec.Params{
		AccountID:       c.Params("accountId"),
		FromDate:        c.Query("fromDate"),
		ToDate:          c.Query("toDate"),
		TransactionType: c.Query("transactionType"),
	}
	return h.dispatch(c, c.Params("clientId"), investec.DestinationAccountTransactions.String(), p)
}

// GetBalance handles GET /api/v1/clients/:clientId/accounts/:accountId/balance.
func (h *BankingHandler) GetBalance(c *fiber.Ctx) error {
	p := investec.Params{AccountID: c.Params("accountId")}
	return h.dispatch(c, c.Params("clientId"), investec.DestinationAccountBalance.String(), p)
}

// AccessBanking handles POST /api/v1/access-banking.
func (h *BankingHandler) AccessBanking(c *fiber.Ctx) error {
	var req AccessBankingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return h.dispatch(c, req.ClientID, req.Destination, req.Params)
}

// GetLatestBalance handles GET /api/v1/clients/:clientId/accounts/:accountId/balance/latest
// from the Redis copy written by the poller, without calling Investec.
func (h *BankingHandler) GetLatestBalance(c *fiber.Ctx) error {
	clientID, accountID := c.Params("clientId"), c.Params("accountId")
	if !h.knownClient(c, clientID) {
		return forbidden(c)
	}
	if h.balances == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "balance store unavailable"})
	}

	snap, err := h.balances.GetBalance(c.UserContext(), clientID, h.venue, accountID)
	if err != nil {
		h.logger.Error("investec.api.latest_balance_failed",
			zap.String("client", clientID),
			zap.String("account", accountID),
			zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	if snap == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no stored balance for account"})
	}
	return c.JSON(snap)
}

// ListStoredBalances handles GET /api/v1/clients/:clientId/balances.
func (h *BankingHandler) ListStoredBalances(c *fiber.Ctx) error {
	clientID := c.Params("clientId")
	if !h.knownClient(c, clientID) {
		return forbidden(c)
	}
	if h.balances == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "balance store unavailable"})
	}

	snaps, err := h.balances.GetClientBalances(c.UserContext(), clientID)
	if err != nil {
		h.logger.Error("investec.api.balances_failed",
			zap.String("client", clientID),
			zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	if snaps == nil {
		snaps = []model.BalanceSnapshot{}
	}
	return c.JSON(BalancesResponse{ClientID: clientID, Balances: snaps})
}
