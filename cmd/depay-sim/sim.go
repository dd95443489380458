package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay"
	"github.com/vitwit/depay/asset"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/oracle"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

// Local dev accounts. The owner pays, receives and operates the treasury.
var (
	engineAddr = common.HexToAddress("0x016627FC3eBd6A296a88204BC5Fa77f5db6f2D1e")
	owner      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

type simConfig struct {
	Kind        types.AssetKind
	USD         string
	Price       *big.Int
	PriceDec    uint8
	FeeBps      uint16
	BufferPct   uint64
	StartingBal *uint256.Int
}

// report captures what one simulated flow observed.
type report struct {
	Kind            types.AssetKind
	Required        *uint256.Int
	Buffered        *uint256.Int
	Hash            common.Hash
	Refunded        *uint256.Int
	ReplayErr       error
	Withdrawn       *uint256.Int
	TreasuryPaid    *uint256.Int
	Events          []types.PaymentEvent
	OwnerBalanceEnd *uint256.Int
}

// simulate replays quote, buffer, hash, pay, replay, withdraw and treasury
// withdraw against an in-process engine.
func simulate(ctx context.Context, cfg simConfig, l logger.Logger) (*report, error) {
	var (
		a       asset.Asset
		balance func() *uint256.Int
		approve func(*uint256.Int)
	)

	switch cfg.Kind {
	case types.AssetNative:
		w := asset.NewWallets()
		w.Fund(owner, cfg.StartingBal)
		a = asset.NewNative(w, engineAddr, types.SepoliaNative.Symbol, 18)
		balance = func() *uint256.Int { return w.BalanceOf(owner) }
		approve = func(*uint256.Int) {}
	case types.AssetERC20:
		t := asset.NewMemoryToken()
		t.Mint(owner, cfg.StartingBal)
		a = asset.NewToken(t, types.SepoliaLINK.Token, engineAddr, types.SepoliaLINK.Symbol, 18)
		balance = func() *uint256.Int {
			b, _ := t.BalanceOf(ctx, owner)
			return b
		}
		approve = func(amount *uint256.Int) { t.Approve(owner, engineAddr, amount) }
	default:
		return nil, fmt.Errorf("unknown asset kind %q", cfg.Kind)
	}

	d, err := depay.New(&types.Config{
		EngineAddress:    engineAddr,
		TreasuryOperator: owner,
		TreasuryFeeBps:   cfg.FeeBps,
		DefaultTimeout:   5 * time.Second,
	}, a,
		depay.WithLogger(l),
		depay.WithOracle(oracle.NewStatic(cfg.Price, cfg.PriceDec)),
	)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	rep := &report{Kind: cfg.Kind}

	sub := d.Subscribe(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C() {
			l.Info("payment event detected", map[string]any{
				"payer":     ev.Payer.Hex(),
				"recipient": ev.Recipient.Hex(),
				"amount":    utils.FormatAmount(ev.Amount, a.Decimals()) + " " + a.Symbol(),
				"memo":      ev.Memo,
				"hash":      ev.Hash.Hex(),
			})
			rep.Events = append(rep.Events, ev)
		}
	}()

	usd, err := utils.ParseUSD(cfg.USD)
	if err != nil {
		return nil, err
	}
	if rep.Required, err = d.GetRequiredAmount(ctx, usd); err != nil {
		return nil, err
	}
	if rep.Buffered, err = utils.WithBuffer(rep.Required, cfg.BufferPct); err != nil {
		return nil, err
	}
	l.Info("quoted payment", map[string]any{
		"usd":      cfg.USD,
		"required": utils.FormatAmount(rep.Required, a.Decimals()),
		"buffered": utils.FormatAmount(rep.Buffered, a.Decimals()),
		"symbol":   a.Symbol(),
	})

	memo := fmt.Sprintf("test_payment:%d", time.Now().UnixMilli())
	req := depay.NewPayRequest(owner, usd, memo)
	rep.Hash = req.Hash

	call := types.CallContext{From: owner}
	if cfg.Kind == types.AssetNative {
		call.Value = rep.Buffered
	} else {
		approve(rep.Buffered)
	}

	receipt, err := d.Pay(ctx, call, req)
	if err != nil {
		return nil, fmt.Errorf("pay: %w", err)
	}
	rep.Refunded = receipt.Refunded
	l.Info("payment completed", map[string]any{"id": receipt.Event.ID.String(), "hash": req.Hash.Hex()})

	_, rep.ReplayErr = d.Pay(ctx, call, req)
	if rep.ReplayErr == nil {
		return nil, fmt.Errorf("replayed payment %s was accepted", req.Hash.Hex())
	}
	l.Info("reusing hash failed as expected", map[string]any{"error": rep.ReplayErr.Error()})

	w, err := d.Withdraw(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	rep.Withdrawn = w.Amount
	l.Info("owner balance withdrawn", map[string]any{"amount": utils.FormatAmount(w.Amount, a.Decimals())})

	rep.TreasuryPaid = new(uint256.Int)
	tw, err := d.TreasuryWithdraw(ctx, owner, a.Address())
	switch {
	case err == nil:
		rep.TreasuryPaid = tw.Amount
		l.Info("treasury balance withdrawn", map[string]any{"amount": utils.FormatAmount(tw.Amount, a.Decimals())})
	case types.IsCode(err, types.ErrCodeNothingToWithdraw):
		l.Info("treasury balance empty", nil)
	default:
		return nil, fmt.Errorf("treasury withdraw: %w", err)
	}

	sub.Unsubscribe()
	<-done

	rep.OwnerBalanceEnd = balance()
	return rep, nil
}
