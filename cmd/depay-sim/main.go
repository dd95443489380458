package main

import (
	"context"
	"flag"
	"log"

	"github.com/holiman/uint256"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

type options struct {
	Asset     string `validate:"oneof=native erc20 both"`
	USD       string `validate:"required,numeric"`
	EthPrice  string `validate:"required,numeric"`
	LinkPrice string `validate:"required,numeric"`
	FeeBps    uint   `validate:"lte=10000"`
	LogLevel  string `validate:"oneof=debug info warn error"`
}

func (o options) flows() []types.AssetKind {
	switch o.Asset {
	case "native":
		return []types.AssetKind{types.AssetNative}
	case "erc20":
		return []types.AssetKind{types.AssetERC20}
	default:
		return []types.AssetKind{types.AssetNative, types.AssetERC20}
	}
}

func main() {
	var opts options
	flag.StringVar(&opts.Asset, "asset", "both", "settlement asset: native, erc20 or both")
	flag.StringVar(&opts.USD, "usd", "100", "USD amount to pay")
	flag.StringVar(&opts.EthPrice, "eth-price", "2000", "ETH/USD price")
	flag.StringVar(&opts.LinkPrice, "link-price", "15", "LINK/USD price")
	flag.UintVar(&opts.FeeBps, "fee-bps", 100, "treasury share in basis points")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "log level")
	flag.Parse()

	if err := utils.ValidateStruct(opts); err != nil {
		log.Fatalf("Flag error: %v", err)
	}

	zl, err := logger.NewZapLogger(opts.LogLevel, true)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer zl.Sync()

	for _, k := range opts.flows() {
		price := opts.EthPrice
		if k == types.AssetERC20 {
			price = opts.LinkPrice
		}
		scaled, err := utils.ParseAmountWithDecimals(price, 8)
		if err != nil {
			log.Fatalf("invalid price %q: %v", price, err)
		}

		rep, err := simulate(context.Background(), simConfig{
			Kind:        k,
			USD:         opts.USD,
			Price:       scaled.ToBig(),
			PriceDec:    8,
			FeeBps:      uint16(opts.FeeBps),
			BufferPct:   utils.DefaultBufferPercent,
			StartingBal: new(uint256.Int).Mul(uint256.NewInt(1000), uint256.NewInt(1e18)),
		}, zl.Named(string(k)))
		if err != nil {
			log.Fatalf("%s flow failed: %v", k, err)
		}
		zl.Info("flow finished", map[string]any{
			"asset":   string(k),
			"events":  len(rep.Events),
			"balance": utils.FormatAmount(rep.OwnerBalanceEnd, 18),
		})
	}
}
