package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/depay/asset"
	"github.com/vitwit/depay/oracle"
	"github.com/vitwit/depay/store"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

var (
	engineAddr = common.HexToAddress("0x016627FC3eBd6A296a88204BC5Fa77f5db6f2D1e")
	operator   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	payer      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	alice      = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob        = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	linkAddr   = common.HexToAddress("0x779877A7B0D9E8603169DdbD7836e478b4624789")
)

// oneDollar prices the asset at exactly 1 USD with 18 decimals.
func oneDollar() *oracle.Static {
	return oracle.NewStatic(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), 18)
}

type nativeFixture struct {
	engine  *Engine
	wallets *asset.Wallets
	oracle  *oracle.Static
}

func newNativeFixture(t *testing.T, feeBps uint16, s store.Store) *nativeFixture {
	t.Helper()

	w := asset.NewWallets()
	w.Fund(payer, dollars(1000))
	o := oneDollar()

	e, err := NewEngine(types.Config{
		EngineAddress:    engineAddr,
		TreasuryOperator: operator,
		TreasuryFeeBps:   feeBps,
		DefaultTimeout:   time.Second,
	}, Deps{
		Asset:  asset.NewNative(w, engineAddr, "ETH", 18),
		Oracle: o,
		Store:  s,
	})
	require.NoError(t, err)
	return &nativeFixture{engine: e, wallets: w, oracle: o}
}

func payRequest(recipient common.Address, usd *uint256.Int, memo string) types.PayRequest {
	return types.PayRequest{
		Recipient: recipient,
		USDAmount: usd,
		Memo:      memo,
		Hash:      utils.PaymentHash(recipient, usd, memo),
	}
}

func paying(value *uint256.Int) types.CallContext {
	return types.CallContext{From: payer, Value: value}
}

func TestNewEngine_Validation(t *testing.T) {
	w := asset.NewWallets()
	native := asset.NewNative(w, engineAddr, "ETH", 18)

	_, err := NewEngine(types.Config{TreasuryFeeBps: 10001}, Deps{Asset: native, Oracle: oneDollar()})
	assert.True(t, errors.Is(err, types.ErrConfig))

	_, err = NewEngine(types.Config{}, Deps{Oracle: oneDollar()})
	assert.True(t, errors.Is(err, types.ErrConfig))

	_, err = NewEngine(types.Config{}, Deps{Asset: native})
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestEngine_PayNative(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)
	sub := f.engine.Subscribe(4)
	defer sub.Unsubscribe()

	req := payRequest(alice, dollars(100), "invoice-1")
	quote, err := f.engine.GetRequiredAmount(ctx, req.USDAmount)
	require.NoError(t, err)
	assert.Equal(t, dollars(100).Dec(), quote.Dec())

	receipt, err := f.engine.Pay(ctx, paying(dollars(104)), req)
	require.NoError(t, err)
	assert.Equal(t, dollars(100).Dec(), receipt.Required.Dec())
	assert.Equal(t, dollars(4).Dec(), receipt.Refunded.Dec())
	assert.True(t, receipt.Event.TreasuryAmount.IsZero())

	bal, err := f.engine.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, dollars(100).Dec(), bal.Dec())
	assert.Equal(t, dollars(900).Dec(), f.wallets.BalanceOf(payer).Dec())
	assert.Equal(t, dollars(100).Dec(), f.wallets.BalanceOf(engineAddr).Dec())

	settled, err := f.engine.IsSettled(ctx, req.Hash)
	require.NoError(t, err)
	assert.True(t, settled)

	select {
	case ev := <-sub.C():
		assert.Equal(t, payer, ev.Payer)
		assert.Equal(t, alice, ev.Recipient)
		assert.Equal(t, dollars(100).Dec(), ev.Amount.Dec())
		assert.Equal(t, "invoice-1", ev.Memo)
		assert.Equal(t, req.Hash, ev.Hash)
		assert.Equal(t, types.NativeAsset, ev.Asset)
	case <-time.After(time.Second):
		t.Fatal("no payment event")
	}

	require.NoError(t, f.engine.CheckSolvency(ctx))
}

func TestEngine_PayReplayRejected(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)
	req := payRequest(alice, dollars(100), "invoice-1")

	_, err := f.engine.Pay(ctx, paying(dollars(104)), req)
	require.NoError(t, err)

	_, err = f.engine.Pay(ctx, paying(dollars(104)), req)
	assert.True(t, errors.Is(err, types.ErrHashAlreadyUsed))

	assert.Equal(t, dollars(900).Dec(), f.wallets.BalanceOf(payer).Dec())
	bal, _ := f.engine.BalanceOf(ctx, alice)
	assert.Equal(t, dollars(100).Dec(), bal.Dec())
}

func TestEngine_PayInsufficientLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)
	req := payRequest(alice, dollars(100), "invoice-1")

	_, err := f.engine.Pay(ctx, paying(dollars(99)), req)
	assert.True(t, errors.Is(err, types.ErrInsufficientPayment))

	bal, _ := f.engine.BalanceOf(ctx, alice)
	assert.True(t, bal.IsZero())
	assert.Equal(t, dollars(1000).Dec(), f.wallets.BalanceOf(payer).Dec())
	settled, _ := f.engine.IsSettled(ctx, req.Hash)
	assert.False(t, settled)

	// the same hash can still be paid properly
	_, err = f.engine.Pay(ctx, paying(dollars(100)), req)
	require.NoError(t, err)
}

func TestEngine_PayInvalidRequest(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)

	tests := []struct {
		name string
		req  types.PayRequest
	}{
		{name: "zero recipient", req: payRequest(common.Address{}, dollars(1), "m")},
		{name: "zero usd", req: payRequest(alice, new(uint256.Int), "m")},
		{name: "nil usd", req: types.PayRequest{Recipient: alice, Memo: "m"}},
		{name: "memo too long", req: payRequest(alice, dollars(1), strings.Repeat("x", types.MaxMemoLength+1))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Pay(ctx, paying(dollars(10)), tc.req)
			assert.True(t, errors.Is(err, types.ErrInvalidRequest))
		})
	}
	assert.Equal(t, dollars(1000).Dec(), f.wallets.BalanceOf(payer).Dec())
}

func TestEngine_PayRejectsNonPositivePrice(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)

	for _, price := range []int64{0, -1} {
		f.oracle.Set(big.NewInt(price), 8)
		_, err := f.engine.Pay(ctx, paying(dollars(104)), payRequest(alice, dollars(100), "m"))
		assert.True(t, errors.Is(err, types.ErrOraclePriceInvalid))

		_, err = f.engine.GetRequiredAmount(ctx, dollars(100))
		assert.True(t, errors.Is(err, types.ErrOraclePriceInvalid))
	}
	assert.Equal(t, dollars(1000).Dec(), f.wallets.BalanceOf(payer).Dec())
}

func TestEngine_WithdrawDrainsOnce(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)

	_, err := f.engine.Pay(ctx, paying(dollars(100)), payRequest(alice, dollars(100), "a"))
	require.NoError(t, err)

	w, err := f.engine.Withdraw(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, dollars(100).Dec(), w.Amount.Dec())
	assert.Equal(t, alice, w.To)
	assert.Equal(t, dollars(100).Dec(), f.wallets.BalanceOf(alice).Dec())
	assert.True(t, f.wallets.BalanceOf(engineAddr).IsZero())

	_, err = f.engine.Withdraw(ctx, alice)
	assert.True(t, errors.Is(err, types.ErrNothingToWithdraw))

	_, err = f.engine.Withdraw(ctx, common.Address{})
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
}

func TestEngine_RecipientsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)

	_, err := f.engine.Pay(ctx, paying(dollars(100)), payRequest(alice, dollars(100), "a"))
	require.NoError(t, err)
	_, err = f.engine.Pay(ctx, paying(dollars(30)), payRequest(bob, dollars(30), "b"))
	require.NoError(t, err)

	_, err = f.engine.Withdraw(ctx, alice)
	require.NoError(t, err)

	bobBal, _ := f.engine.BalanceOf(ctx, bob)
	assert.Equal(t, dollars(30).Dec(), bobBal.Dec())
	require.NoError(t, f.engine.CheckSolvency(ctx))
}

func TestEngine_FailedReleaseRestoresBalance(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)

	_, err := f.engine.Pay(ctx, paying(dollars(100)), payRequest(alice, dollars(100), "a"))
	require.NoError(t, err)

	f.wallets.Reject(alice, true)
	_, err = f.engine.Withdraw(ctx, alice)
	assert.True(t, errors.Is(err, types.ErrTransferFailed))

	bal, _ := f.engine.BalanceOf(ctx, alice)
	assert.Equal(t, dollars(100).Dec(), bal.Dec())

	f.wallets.Reject(alice, false)
	w, err := f.engine.Withdraw(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, dollars(100).Dec(), w.Amount.Dec())
}

func TestEngine_TreasuryFeeAndWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 250, nil)

	receipt, err := f.engine.Pay(ctx, paying(dollars(100)), payRequest(alice, dollars(100), "a"))
	require.NoError(t, err)

	fee := new(uint256.Int).Div(dollars(10), uint256.NewInt(4)) // 2.5
	assert.Equal(t, fee.Dec(), receipt.Event.TreasuryAmount.Dec())
	assert.Equal(t, new(uint256.Int).Sub(dollars(100), fee).Dec(), receipt.Event.Amount.Dec())

	treasury, err := f.engine.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, fee.Dec(), treasury.Dec())

	zero, _ := f.engine.BalanceOf(ctx, types.TreasuryAccount)
	assert.True(t, zero.IsZero())

	_, err = f.engine.TreasuryWithdraw(ctx, alice, types.NativeAsset)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))

	_, err = f.engine.TreasuryWithdraw(ctx, operator, linkAddr)
	assert.True(t, errors.Is(err, types.ErrUnsupportedAsset))

	w, err := f.engine.TreasuryWithdraw(ctx, operator, types.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, fee.Dec(), w.Amount.Dec())
	assert.Equal(t, types.TreasuryAccount, w.Owner)
	assert.Equal(t, fee.Dec(), f.wallets.BalanceOf(operator).Dec())

	_, err = f.engine.TreasuryWithdraw(ctx, operator, types.NativeAsset)
	assert.True(t, errors.Is(err, types.ErrNothingToWithdraw))

	// the recipient share is untouched
	bal, _ := f.engine.BalanceOf(ctx, alice)
	assert.Equal(t, receipt.Event.Amount.Dec(), bal.Dec())
}

func TestEngine_OperatorAsRecipientCannotDrainTreasury(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 1000, nil)

	_, err := f.engine.Pay(ctx, paying(dollars(100)), payRequest(operator, dollars(100), "self"))
	require.NoError(t, err)

	w, err := f.engine.Withdraw(ctx, operator)
	require.NoError(t, err)
	assert.Equal(t, dollars(90).Dec(), w.Amount.Dec())

	treasury, _ := f.engine.TreasuryBalance(ctx)
	assert.Equal(t, dollars(10).Dec(), treasury.Dec())
}

type failingApply struct {
	store.Store
}

func (failingApply) ApplyPayment(context.Context, common.Hash, []types.Credit) error {
	return types.NewError(types.ErrCodeStoreError, "disk full")
}

func TestEngine_ApplyFailureReturnsFunds(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, failingApply{Store: store.NewMemory()})

	_, err := f.engine.Pay(ctx, paying(dollars(104)), payRequest(alice, dollars(100), "a"))
	assert.True(t, errors.Is(err, types.ErrStore))

	assert.Equal(t, dollars(1000).Dec(), f.wallets.BalanceOf(payer).Dec())
	assert.True(t, f.wallets.BalanceOf(engineAddr).IsZero())
}

// stalledStore blocks until the caller's context ends.
type stalledStore struct {
	store.Store
}

func (stalledStore) IsSettled(ctx context.Context, _ common.Hash) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (stalledStore) DebitAll(ctx context.Context, _ common.Address) (*uint256.Int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngine_StoreCallsAreBounded(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, stalledStore{Store: store.NewMemory()})

	start := time.Now()
	_, err := f.engine.Pay(ctx, paying(dollars(100)), payRequest(alice, dollars(100), "a"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, dollars(1000).Dec(), f.wallets.BalanceOf(payer).Dec())

	_, err = f.engine.Withdraw(ctx, alice)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEngine_CheckSolvency(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)

	_, err := f.engine.Pay(ctx, paying(dollars(100)), payRequest(alice, dollars(100), "a"))
	require.NoError(t, err)
	require.NoError(t, f.engine.CheckSolvency(ctx))

	require.NoError(t, f.wallets.Transfer(engineAddr, bob, dollars(1)))
	err = f.engine.CheckSolvency(ctx)
	assert.True(t, errors.Is(err, types.ErrInsolvent))
}

func TestEngine_EngineAccountCannotPay(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)

	_, err := f.engine.Pay(ctx, paying(dollars(100)), payRequest(alice, dollars(100), "a"))
	require.NoError(t, err)

	self := types.CallContext{From: engineAddr, Value: dollars(100)}
	req := payRequest(bob, dollars(100), "self")
	_, err = f.engine.Pay(ctx, self, req)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	bal, err := f.engine.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	settled, err := f.engine.IsSettled(ctx, req.Hash)
	require.NoError(t, err)
	assert.False(t, settled)
	assert.Equal(t, dollars(100).Dec(), f.wallets.BalanceOf(engineAddr).Dec())
	require.NoError(t, f.engine.CheckSolvency(ctx))

	_, err = f.engine.Withdraw(ctx, alice)
	require.NoError(t, err)
}

func TestEngine_ConcurrentPaymentsSettleOnce(t *testing.T) {
	ctx := context.Background()
	f := newNativeFixture(t, 0, nil)
	req := payRequest(alice, dollars(10), "race")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		settled  int
		replayed int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Pay(ctx, paying(dollars(10)), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case errors.Is(err, types.ErrHashAlreadyUsed):
				replayed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, 15, replayed)
	assert.Equal(t, dollars(990).Dec(), f.wallets.BalanceOf(payer).Dec())
}

func TestEngine_PayToken(t *testing.T) {
	ctx := context.Background()

	token := asset.NewMemoryToken()
	token.Mint(payer, dollars(1000))
	// LINK at 15.00000000 USD
	o := oracle.NewStatic(big.NewInt(15_00000000), 8)

	e, err := NewEngine(types.Config{
		EngineAddress:    engineAddr,
		TreasuryOperator: operator,
	}, Deps{
		Asset:  asset.NewToken(token, linkAddr, engineAddr, "LINK", 18),
		Oracle: o,
	})
	require.NoError(t, err)

	req := payRequest(alice, dollars(150), "link-1")
	required, err := e.GetRequiredAmount(ctx, req.USDAmount)
	require.NoError(t, err)
	assert.Equal(t, dollars(10).Dec(), required.Dec())

	_, err = e.Pay(ctx, types.CallContext{From: payer}, req)
	assert.True(t, errors.Is(err, types.ErrInsufficientAllowance))

	buffered, err := utils.WithBuffer(required, utils.DefaultBufferPercent)
	require.NoError(t, err)
	token.Approve(payer, engineAddr, buffered)

	receipt, err := e.Pay(ctx, types.CallContext{From: payer}, req)
	require.NoError(t, err)
	assert.Equal(t, required.Dec(), receipt.Required.Dec())
	assert.True(t, receipt.Refunded.IsZero())
	assert.Equal(t, linkAddr, receipt.Event.Asset)

	left, _ := token.Allowance(ctx, payer, engineAddr)
	assert.Equal(t, new(uint256.Int).Sub(buffered, required).Dec(), left.Dec())

	_, err = e.TreasuryWithdraw(ctx, operator, types.NativeAsset)
	assert.True(t, errors.Is(err, types.ErrUnsupportedAsset))

	w, err := e.Withdraw(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, required.Dec(), w.Amount.Dec())
	aliceBal, _ := token.BalanceOf(ctx, alice)
	assert.Equal(t, required.Dec(), aliceBal.Dec())
	require.NoError(t, e.CheckSolvency(ctx))
}

func TestEngine_RedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedis(rdb, "test")
	t.Cleanup(func() { _ = s.Close() })

	f := newNativeFixture(t, 500, s)

	for i := 0; i < 3; i++ {
		_, err := f.engine.Pay(ctx, paying(dollars(20)), payRequest(alice, dollars(20), fmt.Sprintf("r-%d", i)))
		require.NoError(t, err)
	}
	_, err := f.engine.Pay(ctx, paying(dollars(20)), payRequest(alice, dollars(20), "r-0"))
	assert.True(t, errors.Is(err, types.ErrHashAlreadyUsed))

	bal, err := f.engine.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, dollars(57).Dec(), bal.Dec())

	treasury, err := f.engine.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, dollars(3).Dec(), treasury.Dec())

	require.NoError(t, f.engine.CheckSolvency(ctx))

	_, err = f.engine.Withdraw(ctx, alice)
	require.NoError(t, err)
	_, err = f.engine.TreasuryWithdraw(ctx, operator, types.NativeAsset)
	require.NoError(t, err)
	assert.True(t, f.wallets.BalanceOf(engineAddr).IsZero())
}
