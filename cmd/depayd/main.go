package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vitwit/depay"
	"github.com/vitwit/depay/api"
	"github.com/vitwit/depay/asset"
	"github.com/vitwit/depay/clients"
	"github.com/vitwit/depay/config"
	"github.com/vitwit/depay/events"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/metrics"
	"github.com/vitwit/depay/oracle"
	"github.com/vitwit/depay/settlement"
	"github.com/vitwit/depay/store"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	zl, err := logger.NewZapLogger(cfg.LogLevel, cfg.Development())
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Error("depayd stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *config.Config, l logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		rec      metrics.Recorder = metrics.NoopRecorder{}
		gatherer prometheus.Gatherer
	)
	if cfg.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec = metrics.NewPrometheusRecorder(reg)
		gatherer = reg
	}

	var eth *ethclient.Client
	if cfg.RPCURL != "" {
		c, err := clients.Dial(ctx, cfg.RPCURL)
		if err != nil {
			return err
		}
		defer c.Close()
		eth = c
	}

	o, err := buildOracle(cfg, eth)
	if err != nil {
		return err
	}
	a, err := buildAsset(ctx, cfg, eth)
	if err != nil {
		return err
	}

	opts := []depay.Option{
		depay.WithLogger(l),
		depay.WithMetrics(rec),
		depay.WithOracle(o),
		depay.WithTimeout(cfg.Timeout),
	}
	if cfg.RedisAddr != "" {
		s, err := store.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return err
		}
		opts = append(opts, depay.WithStore(s))
	}

	d, err := depay.New(cfg.EngineConfig(), a, opts...)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := verifyCustody(ctx, d.Engine()); err != nil {
		return err
	}

	if cfg.NatsURL != "" {
		nc, err := events.ConnectNATS(cfg.NatsURL, "depayd")
		if err != nil {
			return err
		}
		defer nc.Drain()
		go events.Relay(ctx, d.Subscribe(events.DefaultBuffer), nc, cfg.NatsSubject, l.Named("relay"))
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(d.Engine(), l.Named("api"), gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("http server listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildOracle(cfg *config.Config, eth *ethclient.Client) (oracle.PriceOracle, error) {
	if eth != nil {
		return clients.NewChainlinkFeed(cfg.FeedAddress, eth)
	}
	price, err := cfg.StaticRate()
	if err != nil {
		return nil, err
	}
	return oracle.NewStatic(price, cfg.StaticPriceDecimals), nil
}

// buildAsset returns the settlement asset backed by the simulated ledger.
// When an RPC endpoint is configured, token metadata is read from the chain
// and dev accounts mirror their on-chain balance and engine allowance.
func buildAsset(ctx context.Context, cfg *config.Config, eth *ethclient.Client) (asset.Asset, error) {
	accounts, err := devAccounts(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.AssetKind {
	case types.AssetERC20:
		symbol, decimals := cfg.AssetSymbol, cfg.AssetDecimals
		if eth != nil {
			reader, err := clients.NewERC20Reader(cfg.TokenAddress, eth)
			if err != nil {
				return nil, err
			}
			if symbol, err = reader.Symbol(ctx); err != nil {
				return nil, err
			}
			if decimals, err = reader.Decimals(ctx); err != nil {
				return nil, err
			}
			if accounts, err = mirrorAccounts(ctx, reader, cfg.EngineAddress, accounts); err != nil {
				return nil, err
			}
		}
		ledger := asset.NewMemoryToken()
		tok := asset.NewToken(ledger, cfg.TokenAddress, cfg.EngineAddress, symbol, decimals)
		for _, a := range accounts {
			ledger.Mint(a.Owner, a.Balance)
			if a.Allowance != nil {
				if err := tok.Approve(ctx, a.Owner, a.Allowance); err != nil {
					return nil, err
				}
			}
		}
		return tok, nil
	default:
		wallets := asset.NewWallets()
		for _, a := range accounts {
			wallets.Fund(a.Owner, a.Balance)
		}
		return asset.NewNative(wallets, cfg.EngineAddress, cfg.AssetSymbol, cfg.AssetDecimals), nil
	}
}

// devAccount is an account seeded into the simulated ledger at startup.
type devAccount struct {
	Owner     common.Address
	Balance   *uint256.Int
	Allowance *uint256.Int
}

func devAccounts(cfg *config.Config) ([]devAccount, error) {
	balance, err := uint256.FromDecimal(cfg.DevBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid DEPAY_DEV_BALANCE: %w", err)
	}
	var accounts []devAccount
	for _, s := range cfg.DevAccounts {
		addr, err := utils.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		if addr == cfg.EngineAddress {
			return nil, fmt.Errorf("DEPAY_DEV_ACCOUNTS must not include the engine address")
		}
		accounts = append(accounts, devAccount{Owner: addr, Balance: balance})
	}
	return accounts, nil
}

// tokenState reads a deployed token.
type tokenState interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
}

func mirrorAccounts(ctx context.Context, chain tokenState, engine common.Address, accounts []devAccount) ([]devAccount, error) {
	out := make([]devAccount, 0, len(accounts))
	for _, a := range accounts {
		bal, err := chain.BalanceOf(ctx, a.Owner)
		if err != nil {
			return nil, fmt.Errorf("balanceOf %s: %w", a.Owner.Hex(), err)
		}
		allowance, err := chain.Allowance(ctx, a.Owner, engine)
		if err != nil {
			return nil, fmt.Errorf("allowance %s: %w", a.Owner.Hex(), err)
		}
		out = append(out, devAccount{Owner: a.Owner, Balance: bal, Allowance: allowance})
	}
	return out, nil
}

// verifyCustody refuses to serve when stored balances exceed what the
// simulated custody holds, which happens when a durable store outlives the
// in-memory ledger across a restart.
func verifyCustody(ctx context.Context, e *settlement.Engine) error {
	if err := e.CheckSolvency(ctx); err != nil {
		return fmt.Errorf("stored balances are not backed by custody; clear the store or run without DEPAY_REDIS_ADDR: %w", err)
	}
	return nil
}
