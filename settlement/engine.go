package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/asset"
	"github.com/vitwit/depay/events"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/metrics"
	"github.com/vitwit/depay/oracle"
	"github.com/vitwit/depay/store"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

const bpsDenominator = 10_000

// Engine settles USD-denominated payments in a single settlement asset.
//
// Every mutating call holds the engine mutex for its whole duration, so a
// payment is observed either fully applied or not at all.
type Engine struct {
	mu sync.Mutex

	cfg       types.Config
	asset     asset.Asset
	converter *Converter
	store     store.Store
	bus       *events.Bus

	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// Deps are the collaborators of an Engine. Store, Bus, Logger and Metrics
// fall back to in-memory or no-op implementations when nil.
type Deps struct {
	Asset   asset.Asset
	Oracle  oracle.PriceOracle
	Store   store.Store
	Bus     *events.Bus
	Logger  logger.Logger
	Metrics metrics.Recorder
}

// NewEngine creates an engine from cfg and its collaborators.
func NewEngine(cfg types.Config, deps Deps) (*Engine, error) {
	if err := utils.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	if deps.Asset == nil {
		return nil, types.NewError(types.ErrCodeConfigError, "settlement asset is required")
	}
	if deps.Oracle == nil {
		return nil, types.NewError(types.ErrCodeConfigError, "price oracle is required")
	}

	l := deps.Logger
	if l == nil {
		l = logger.NoopLogger{}
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NoopRecorder{}
	}
	s := deps.Store
	if s == nil {
		s = store.NewMemory()
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus(l.Named("events"), m)
	}

	return &Engine{
		cfg:       cfg,
		asset:     deps.Asset,
		converter: NewConverter(deps.Oracle, deps.Asset.Decimals(), cfg.DefaultTimeout),
		store:     s,
		bus:       bus,
		logger:    l.Named("engine"),
		metrics:   m,
		now:       time.Now,
	}, nil
}

// Asset returns the settlement asset.
func (e *Engine) Asset() asset.Asset { return e.asset }

// Config returns a copy of the engine configuration.
func (e *Engine) Config() types.Config { return e.cfg }

// Bus returns the event bus payments are published on.
func (e *Engine) Bus() *events.Bus { return e.bus }

// GetRequiredAmount quotes usd against the current oracle price.
func (e *Engine) GetRequiredAmount(ctx context.Context, usd *uint256.Int) (*uint256.Int, error) {
	start := time.Now()
	amount, _, err := e.converter.Quote(ctx, usd)
	e.metrics.ObserveLatency(metrics.OpQuote, time.Since(start), e.labels())
	return amount, err
}

// Pay settles req for the caller. The caller's value is only used by the
// native asset; any excess over the required amount is reported as refunded.
func (e *Engine) Pay(ctx context.Context, call types.CallContext, req types.PayRequest) (*types.Receipt, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	receipt, err := e.pay(ctx, call, req)
	e.metrics.ObserveLatency(metrics.OpPay, time.Since(start), e.labels())
	if err != nil {
		e.reject(err, map[string]any{
			"payer":     call.From.Hex(),
			"recipient": req.Recipient.Hex(),
			"hash":      req.Hash.Hex(),
		})
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) pay(ctx context.Context, call types.CallContext, req types.PayRequest) (*types.Receipt, error) {
	if err := validatePay(req); err != nil {
		return nil, err
	}
	if call.From == e.cfg.EngineAddress {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "engine account cannot pay itself")
	}

	settled, err := e.isSettled(ctx, req.Hash)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, types.NewError(types.ErrCodeHashAlreadyUsed, "payment hash %s already used", req.Hash.Hex())
	}

	required, rate, err := e.converter.Quote(ctx, req.USDAmount)
	if err != nil {
		return nil, err
	}

	// Once funds move the call runs to completion.
	ctx = context.WithoutCancel(ctx)

	refund, err := e.asset.Collect(ctx, call.From, required, call.Value)
	if err != nil {
		return nil, err
	}

	fee, net := e.split(required)
	credits := []types.Credit{
		{Owner: req.Recipient, Amount: net},
		{Owner: types.TreasuryAccount, Amount: fee},
	}
	if err := e.store.ApplyPayment(ctx, req.Hash, credits); err != nil {
		if rerr := e.asset.Release(ctx, call.From, required); rerr != nil {
			e.logger.Error("failed to return collected payment", map[string]any{
				"payer":  call.From.Hex(),
				"amount": required.Dec(),
				"hash":   req.Hash.Hex(),
				"error":  rerr.Error(),
			})
		}
		return nil, err
	}

	ev := types.PaymentEvent{
		ID:             uuid.New(),
		Payer:          call.From,
		Recipient:      req.Recipient,
		Amount:         net,
		TreasuryAmount: fee,
		USDAmount:      new(uint256.Int).Set(req.USDAmount),
		Memo:           req.Memo,
		Hash:           req.Hash,
		Asset:          e.asset.Address(),
		SettledAt:      e.now(),
	}
	e.bus.Publish(ev)

	e.metrics.IncCounter(metrics.PaymentSettled, e.labels())
	e.logger.Info("payment settled", map[string]any{
		"payer":     call.From.Hex(),
		"recipient": req.Recipient.Hex(),
		"usd":       utils.FormatUSD(req.USDAmount),
		"amount":    utils.FormatAmount(required, e.asset.Decimals()),
		"symbol":    e.asset.Symbol(),
		"price":     rate.Price.String(),
		"hash":      utils.ShortHash(req.Hash),
	})

	return &types.Receipt{
		Event:    ev,
		Required: required,
		Refunded: refund,
	}, nil
}

// bounded applies the configured timeout to a store read.
func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.DefaultTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	}
	return ctx, func() {}
}

func (e *Engine) isSettled(ctx context.Context, hash common.Hash) (bool, error) {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	return e.store.IsSettled(ctx, hash)
}

func validatePay(req types.PayRequest) error {
	if req.Recipient == (common.Address{}) {
		return types.NewError(types.ErrCodeInvalidRequest, "recipient is required")
	}
	if req.USDAmount == nil || req.USDAmount.IsZero() {
		return types.NewError(types.ErrCodeInvalidRequest, "usd amount must be positive")
	}
	if len(req.Memo) > types.MaxMemoLength {
		return types.NewError(types.ErrCodeInvalidRequest,
			"memo is %d bytes, limit is %d", len(req.Memo), types.MaxMemoLength)
	}
	return nil
}

// split divides required into the treasury fee and the recipient's share.
func (e *Engine) split(required *uint256.Int) (fee, net *uint256.Int) {
	fee = new(uint256.Int)
	if e.cfg.TreasuryFeeBps > 0 {
		// bps <= 10000, so the quotient never exceeds required.
		fee, _ = fee.MulDivOverflow(required, uint256.NewInt(uint64(e.cfg.TreasuryFeeBps)), uint256.NewInt(bpsDenominator))
	}
	return fee, new(uint256.Int).Sub(required, fee)
}

// Withdraw pays the caller's whole balance out to the caller.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address) (*types.Withdrawal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller == types.TreasuryAccount {
		return nil, e.rejectWithdraw(types.NewError(types.ErrCodeUnauthorized, "zero address cannot withdraw"), caller)
	}
	w, err := e.withdraw(ctx, caller, caller)
	if err != nil {
		return nil, e.rejectWithdraw(err, caller)
	}
	return w, nil
}

// TreasuryWithdraw pays the treasury balance out to the treasury operator.
// assetAddr must name the engine's settlement asset (zero address for native).
func (e *Engine) TreasuryWithdraw(ctx context.Context, caller, assetAddr common.Address) (*types.Withdrawal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller == (common.Address{}) || caller != e.cfg.TreasuryOperator {
		return nil, e.rejectWithdraw(types.NewError(types.ErrCodeUnauthorized,
			"%s is not the treasury operator", caller.Hex()), caller)
	}
	if assetAddr != e.asset.Address() {
		return nil, e.rejectWithdraw(types.NewError(types.ErrCodeUnsupportedAsset,
			"asset %s is not settled by this engine", assetAddr.Hex()), caller)
	}
	w, err := e.withdraw(ctx, types.TreasuryAccount, caller)
	if err != nil {
		return nil, e.rejectWithdraw(err, caller)
	}
	return w, nil
}

// withdraw drains owner's balance and releases it to `to`. A failed
// release restores the balance.
func (e *Engine) withdraw(ctx context.Context, owner, to common.Address) (*types.Withdrawal, error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveLatency(metrics.OpWithdraw, time.Since(start), e.labels())
	}()

	dctx, cancel := e.bounded(ctx)
	amount, err := e.store.DebitAll(dctx, owner)
	cancel()
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	if err := e.asset.Release(ctx, to, amount); err != nil {
		if cerr := e.store.Credit(ctx, owner, amount); cerr != nil {
			e.logger.Error("failed to restore balance after failed transfer", map[string]any{
				"owner":  owner.Hex(),
				"amount": amount.Dec(),
				"error":  cerr.Error(),
			})
		}
		if types.IsCode(err, types.ErrCodeTransferFailed) {
			return nil, err
		}
		return nil, &types.DePayError{
			Code:    types.ErrCodeTransferFailed,
			Message: "transfer failed: " + err.Error(),
			Data:    err,
		}
	}

	e.metrics.IncCounter(metrics.Withdrawal, e.labels())
	e.logger.Info("balance withdrawn", map[string]any{
		"owner":    owner.Hex(),
		"to":       to.Hex(),
		"amount":   utils.FormatAmount(amount, e.asset.Decimals()),
		"symbol":   e.asset.Symbol(),
		"treasury": owner == types.TreasuryAccount,
	})

	return &types.Withdrawal{
		Owner:  owner,
		To:     to,
		Amount: amount,
		Asset:  e.asset.Address(),
	}, nil
}

// BalanceOf returns owner's withdrawable balance. The treasury slot is only
// visible through TreasuryBalance.
func (e *Engine) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	if owner == types.TreasuryAccount {
		return new(uint256.Int), nil
	}
	return e.store.BalanceOf(ctx, owner)
}

// TreasuryBalance returns the balance withdrawable by the treasury operator.
func (e *Engine) TreasuryBalance(ctx context.Context) (*uint256.Int, error) {
	return e.store.BalanceOf(ctx, types.TreasuryAccount)
}

// IsSettled reports whether a payment with hash has been accepted.
func (e *Engine) IsSettled(ctx context.Context, hash common.Hash) (bool, error) {
	return e.isSettled(ctx, hash)
}

// CheckSolvency verifies that custody covers every outstanding balance.
func (e *Engine) CheckSolvency(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	owed, err := e.store.Total(ctx)
	if err != nil {
		return err
	}
	held, err := e.asset.Custody(ctx)
	if err != nil {
		return &types.DePayError{
			Code:    types.ErrCodeTransferFailed,
			Message: "failed to read custody balance: " + err.Error(),
			Data:    err,
		}
	}

	e.metrics.SetGauge(metrics.GaugeBalances, owed.Float64(), e.labels())
	e.metrics.SetGauge(metrics.GaugeCustody, held.Float64(), e.labels())

	if held.Lt(owed) {
		e.logger.Error("custody below outstanding balances", map[string]any{
			"custody": held.Dec(),
			"owed":    owed.Dec(),
		})
		return types.NewError(types.ErrCodeInsolvent,
			"custody %s below outstanding balances %s", held.Dec(), owed.Dec())
	}
	return nil
}

// Subscribe returns a subscription to settled payments. Callers must
// Unsubscribe when done.
func (e *Engine) Subscribe(buffer int) *events.Subscription {
	return e.bus.Subscribe(buffer)
}

func (e *Engine) labels() map[string]string {
	return map[string]string{"asset": e.asset.Symbol()}
}

func (e *Engine) reject(err error, fields map[string]any) {
	code := types.ErrorCode(err)
	if code == "" {
		code = types.ErrCodeStoreError
	}
	e.metrics.IncCounter(metrics.PaymentRejected, map[string]string{
		"asset":  e.asset.Symbol(),
		"reason": code,
	})
	fields["code"] = code
	fields["error"] = err.Error()
	e.logger.Warn("payment rejected", fields)
}

func (e *Engine) rejectWithdraw(err error, caller common.Address) error {
	e.logger.Warn("withdrawal rejected", map[string]any{
		"caller": caller.Hex(),
		"code":   types.ErrorCode(err),
		"error":  err.Error(),
	})
	return err
}
