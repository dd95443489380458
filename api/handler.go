// Package api exposes a settlement engine over HTTP.
//
// Callers are identified by the "from" field and nothing else. The surface
// is meant for simulated custody: anyone who can reach it can spend the
// funded accounts. Do not expose it beyond a development network.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/asset"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

// Engine is the settlement surface served by the handlers.
type Engine interface {
	Asset() asset.Asset
	GetRequiredAmount(ctx context.Context, usd *uint256.Int) (*uint256.Int, error)
	Pay(ctx context.Context, call types.CallContext, req types.PayRequest) (*types.Receipt, error)
	Withdraw(ctx context.Context, caller common.Address) (*types.Withdrawal, error)
	TreasuryWithdraw(ctx context.Context, caller, assetAddr common.Address) (*types.Withdrawal, error)
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	TreasuryBalance(ctx context.Context) (*uint256.Int, error)
	IsSettled(ctx context.Context, hash common.Hash) (bool, error)
	CheckSolvency(ctx context.Context) error
}

// Handler serves payment requests
type Handler struct {
	engine Engine
	logger logger.Logger
}

func NewHandler(engine Engine, l logger.Logger) *Handler {
	if l == nil {
		l = logger.NoopLogger{}
	}
	return &Handler{engine: engine, logger: l}
}

// PayRequest is the body of POST /v1/pay. USDAmount is a dollar decimal
// such as "100" or "12.50"; Value is attached native value in base units.
type PayRequest struct {
	From      string `json:"from" binding:"required,eth_addr"`
	Value     string `json:"value,omitempty" binding:"omitempty,numeric"`
	Recipient string `json:"recipient" binding:"required,eth_addr"`
	USDAmount string `json:"usdAmount" binding:"required"`
	Memo      string `json:"memo" binding:"max=1024"`
	// Hash defaults to the hash of recipient, usdAmount and memo.
	Hash string `json:"hash,omitempty" binding:"omitempty,len=66,startswith=0x"`
}

// ApproveRequest is the body of POST /v1/approve. Amount is in token base units.
type ApproveRequest struct {
	From   string `json:"from" binding:"required,eth_addr"`
	Amount string `json:"amount" binding:"required,numeric"`
}

// allowanceSetter is implemented by token assets whose ledger accepts approvals.
type allowanceSetter interface {
	Approve(ctx context.Context, owner common.Address, amount *uint256.Int) error
}

type WithdrawRequest struct {
	From string `json:"from" binding:"required,eth_addr"`
}

type TreasuryWithdrawRequest struct {
	From  string `json:"from" binding:"required,eth_addr"`
	Asset string `json:"asset" binding:"required,eth_addr"`
}

type QuoteResponse struct {
	USDAmount string `json:"usdAmount"`
	Required  string `json:"required"`
	Buffered  string `json:"buffered"`
	Formatted string `json:"formatted"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
}

type PaymentResponse struct {
	ID             string `json:"id"`
	Hash           string `json:"hash"`
	Payer          string `json:"payer"`
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"`
	TreasuryAmount string `json:"treasuryAmount"`
	USDAmount      string `json:"usdAmount"`
	Memo           string `json:"memo"`
	Asset          string `json:"asset"`
	SettledAt      string `json:"settledAt"`
	Required       string `json:"required"`
	Refunded       string `json:"refunded"`
}

type WithdrawalResponse struct {
	Owner  string `json:"owner"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

// Quote handles GET /v1/quote?usd=<decimal>
func (h *Handler) Quote(c *gin.Context) {
	usd, err := utils.ParseUSD(c.Query("usd"))
	if err != nil {
		h.fail(c, err)
		return
	}

	required, err := h.engine.GetRequiredAmount(c.Request.Context(), usd)
	if err != nil {
		h.fail(c, err)
		return
	}
	buffered, err := utils.WithBuffer(required, utils.DefaultBufferPercent)
	if err != nil {
		h.fail(c, err)
		return
	}

	a := h.engine.Asset()
	c.JSON(http.StatusOK, QuoteResponse{
		USDAmount: utils.FormatUSD(usd),
		Required:  required.Dec(),
		Buffered:  buffered.Dec(),
		Formatted: utils.FormatAmount(required, a.Decimals()),
		Symbol:    a.Symbol(),
		Decimals:  a.Decimals(),
	})
}

// Pay handles POST /v1/pay
func (h *Handler) Pay(c *gin.Context) {
	var req PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, types.NewError(types.ErrCodeInvalidRequest, "invalid request: %v", err))
		return
	}

	usd, err := utils.ParseUSD(req.USDAmount)
	if err != nil {
		h.fail(c, err)
		return
	}
	recipient := common.HexToAddress(req.Recipient)

	hash := utils.PaymentHash(recipient, usd, req.Memo)
	if req.Hash != "" {
		if hash, err = utils.ParseHash(req.Hash); err != nil {
			h.fail(c, err)
			return
		}
	}

	var value *uint256.Int
	if req.Value != "" {
		if value, err = uint256.FromDecimal(req.Value); err != nil {
			h.fail(c, types.NewError(types.ErrCodeInvalidRequest, "invalid value: %v", err))
			return
		}
	}

	receipt, err := h.engine.Pay(c.Request.Context(),
		types.CallContext{From: common.HexToAddress(req.From), Value: value},
		types.PayRequest{
			Recipient: recipient,
			USDAmount: usd,
			Memo:      req.Memo,
			Hash:      hash,
		})
	if err != nil {
		h.fail(c, err)
		return
	}

	ev := receipt.Event
	c.JSON(http.StatusCreated, PaymentResponse{
		ID:             ev.ID.String(),
		Hash:           ev.Hash.Hex(),
		Payer:          ev.Payer.Hex(),
		Recipient:      ev.Recipient.Hex(),
		Amount:         ev.Amount.Dec(),
		TreasuryAmount: ev.TreasuryAmount.Dec(),
		USDAmount:      utils.FormatUSD(ev.USDAmount),
		Memo:           ev.Memo,
		Asset:          ev.Asset.Hex(),
		SettledAt:      ev.SettledAt.UTC().Format(time.RFC3339),
		Required:       receipt.Required.Dec(),
		Refunded:       receipt.Refunded.Dec(),
	})
}

// Approve handles POST /v1/approve
func (h *Handler) Approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, types.NewError(types.ErrCodeInvalidRequest, "invalid request: %v", err))
		return
	}

	a, ok := h.engine.Asset().(allowanceSetter)
	if !ok {
		h.fail(c, types.NewError(types.ErrCodeUnsupportedAsset,
			"%s does not use allowances", h.engine.Asset().Symbol()))
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		h.fail(c, types.NewError(types.ErrCodeInvalidRequest, "invalid amount: %v", err))
		return
	}

	owner := common.HexToAddress(req.From)
	if err := a.Approve(c.Request.Context(), owner, amount); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":     owner.Hex(),
		"allowance": amount.Dec(),
		"asset":     h.engine.Asset().Address().Hex(),
	})
}

// Withdraw handles POST /v1/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, types.NewError(types.ErrCodeInvalidRequest, "invalid request: %v", err))
		return
	}

	w, err := h.engine.Withdraw(c.Request.Context(), common.HexToAddress(req.From))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawalResponse(w))
}

// TreasuryWithdraw handles POST /v1/treasury/withdraw
func (h *Handler) TreasuryWithdraw(c *gin.Context) {
	var req TreasuryWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, types.NewError(types.ErrCodeInvalidRequest, "invalid request: %v", err))
		return
	}

	w, err := h.engine.TreasuryWithdraw(c.Request.Context(),
		common.HexToAddress(req.From), common.HexToAddress(req.Asset))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawalResponse(w))
}

// Balance handles GET /v1/balances/:owner
func (h *Handler) Balance(c *gin.Context) {
	owner, err := utils.ParseAddress(c.Param("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}

	bal, err := h.engine.BalanceOf(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":     owner.Hex(),
		"balance":   bal.Dec(),
		"formatted": utils.FormatAmount(bal, h.engine.Asset().Decimals()),
	})
}

// TreasuryBalance handles GET /v1/treasury/balance
func (h *Handler) TreasuryBalance(c *gin.Context) {
	bal, err := h.engine.TreasuryBalance(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":   bal.Dec(),
		"formatted": utils.FormatAmount(bal, h.engine.Asset().Decimals()),
	})
}

// Payment handles GET /v1/payments/:hash
func (h *Handler) Payment(c *gin.Context) {
	hash, err := utils.ParseHash(c.Param("hash"))
	if err != nil {
		h.fail(c, err)
		return
	}

	settled, err := h.engine.IsSettled(c.Request.Context(), hash)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash.Hex(), "settled": settled})
}

// Health handles GET /healthz
func (h *Handler) Health(c *gin.Context) {
	if err := h.engine.CheckSolvency(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"code":   types.ErrorCode(err),
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func withdrawalResponse(w *types.Withdrawal) WithdrawalResponse {
	return WithdrawalResponse{
		Owner:  w.Owner.Hex(),
		To:     w.To.Hex(),
		Amount: w.Amount.Dec(),
		Asset:  w.Asset.Hex(),
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", map[string]any{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}
	code := types.ErrorCode(err)
	if code == "" {
		code = "INTERNAL"
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	switch types.ErrorCode(err) {
	case types.ErrCodeInvalidRequest, types.ErrCodeAmountOverflow, types.ErrCodeUnsupportedAsset:
		return http.StatusBadRequest
	case types.ErrCodeInsufficientPayment, types.ErrCodeInsufficientAllowance:
		return http.StatusPaymentRequired
	case types.ErrCodeUnauthorized:
		return http.StatusForbidden
	case types.ErrCodeHashAlreadyUsed, types.ErrCodeNothingToWithdraw:
		return http.StatusConflict
	case types.ErrCodeBalanceOverflow:
		return http.StatusUnprocessableEntity
	case types.ErrCodeTransferFailed:
		return http.StatusBadGateway
	case types.ErrCodeOraclePriceInvalid, types.ErrCodeInsolvent:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
