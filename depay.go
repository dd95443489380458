// Package depay settles USD-denominated payments in a native coin or an
// ERC20 token priced by an on-chain oracle. Each payment is accepted at most
// once per payment hash; recipients and the treasury withdraw accumulated
// balances.
package depay

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/asset"
	"github.com/vitwit/depay/events"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/metrics"
	"github.com/vitwit/depay/oracle"
	"github.com/vitwit/depay/settlement"
	"github.com/vitwit/depay/store"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

// Version of the depay module.
const Version = "0.3.0"

const defaultTimeout = 30 * time.Second

// DePay is the main entry point wrapping a settlement engine.
type DePay struct {
	engine *settlement.Engine
	config *types.Config

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
	store   store.Store
	oracle  oracle.PriceOracle
	bus     *events.Bus
}

// New creates a DePay instance settling in a. A price oracle must be
// supplied with WithOracle.
func New(config *types.Config, a asset.Asset, opts ...Option) (*DePay, error) {
	if config == nil {
		return nil, types.NewError(types.ErrCodeConfigError, "config is required")
	}

	d := &DePay{
		config:  config,
		timeout: defaultTimeout,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	if config.DefaultTimeout > 0 {
		d.timeout = config.DefaultTimeout
	}
	for _, opt := range opts {
		opt(d)
	}

	cfg := *config
	cfg.DefaultTimeout = d.timeout

	engine, err := settlement.NewEngine(cfg, settlement.Deps{
		Asset:   a,
		Oracle:  d.oracle,
		Store:   d.store,
		Bus:     d.bus,
		Logger:  d.logger,
		Metrics: d.metrics,
	})
	if err != nil {
		return nil, err
	}
	d.engine = engine

	d.logger.Info("depay engine ready", map[string]any{
		"version":  Version,
		"asset":    a.Symbol(),
		"kind":     string(a.Kind()),
		"engine":   config.EngineAddress.Hex(),
		"operator": config.TreasuryOperator.Hex(),
		"feeBps":   config.TreasuryFeeBps,
	})
	return d, nil
}

// NewWithDefaults creates a DePay instance with default configuration
func NewWithDefaults(a asset.Asset, opts ...Option) (*DePay, error) {
	return New(&types.Config{
		DefaultTimeout: defaultTimeout,
		LogLevel:       "info",
		EnableMetrics:  false,
	}, a, opts...)
}

// Engine exposes the underlying settlement engine.
func (d *DePay) Engine() *settlement.Engine {
	return d.engine
}

// Config returns the configuration the instance was built with.
func (d *DePay) Config() *types.Config {
	return d.config
}

// Asset returns the settlement asset.
func (d *DePay) Asset() asset.Asset {
	return d.engine.Asset()
}

// GetRequiredAmount quotes a USD amount in the settlement asset.
func (d *DePay) GetRequiredAmount(ctx context.Context, usd *uint256.Int) (*uint256.Int, error) {
	return d.engine.GetRequiredAmount(ctx, usd)
}

// QuoteWithBuffer quotes usd and adds percent% headroom, as clients do
// before approving or attaching value.
func (d *DePay) QuoteWithBuffer(ctx context.Context, usd *uint256.Int, percent uint64) (*uint256.Int, error) {
	required, err := d.engine.GetRequiredAmount(ctx, usd)
	if err != nil {
		return nil, err
	}
	return utils.WithBuffer(required, percent)
}

// NewPayRequest builds a request whose hash is derived from its fields.
func NewPayRequest(recipient common.Address, usd *uint256.Int, memo string) types.PayRequest {
	return types.PayRequest{
		Recipient: recipient,
		USDAmount: usd,
		Memo:      memo,
		Hash:      utils.PaymentHash(recipient, usd, memo),
	}
}

// Pay settles a payment on behalf of call.From.
func (d *DePay) Pay(ctx context.Context, call types.CallContext, req types.PayRequest) (*types.Receipt, error) {
	return d.engine.Pay(ctx, call, req)
}

// Withdraw pays out the caller's balance.
func (d *DePay) Withdraw(ctx context.Context, caller common.Address) (*types.Withdrawal, error) {
	return d.engine.Withdraw(ctx, caller)
}

// TreasuryWithdraw pays out the treasury balance to the operator.
func (d *DePay) TreasuryWithdraw(ctx context.Context, caller, assetAddr common.Address) (*types.Withdrawal, error) {
	return d.engine.TreasuryWithdraw(ctx, caller, assetAddr)
}

// Subscribe returns a subscription to settled payment events.
func (d *DePay) Subscribe(buffer int) *events.Subscription {
	return d.engine.Subscribe(buffer)
}

// Close shuts down the event bus and the store.
func (d *DePay) Close() error {
	d.engine.Bus().Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
