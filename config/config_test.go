package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/depay/types"
)

const (
	engineHex   = "0x016627FC3eBd6A296a88204BC5Fa77f5db6f2D1e"
	operatorHex = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func setRequired(t *testing.T) {
	t.Setenv("DEPAY_ENGINE_ADDRESS", engineHex)
	t.Setenv("DEPAY_TREASURY_OPERATOR", operatorHex)
}

func TestParse_Defaults(t *testing.T) {
	setRequired(t)
	t.Setenv("DEPAY_STATIC_PRICE", "2000")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, types.AssetNative, cfg.AssetKind)
	assert.Equal(t, types.SepoliaNative.Feed, cfg.FeedAddress)
	assert.Equal(t, "ETH", cfg.AssetSymbol)
	assert.Equal(t, uint8(18), cfg.AssetDecimals)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "depay.payments", cfg.NatsSubject)
	assert.Equal(t, types.NativeAsset, cfg.AssetAddress())

	price, err := cfg.StaticRate()
	require.NoError(t, err)
	assert.Equal(t, "200000000000", price.String())

	ec := cfg.EngineConfig()
	assert.Equal(t, common.HexToAddress(engineHex), ec.EngineAddress)
	assert.Equal(t, common.HexToAddress(operatorHex), ec.TreasuryOperator)
}

func TestParse_ERC20Deployment(t *testing.T) {
	setRequired(t)
	t.Setenv("DEPAY_ASSET_KIND", "erc20")
	t.Setenv("DEPAY_RPC_URL", "https://rpc.sepolia.org")
	t.Setenv("DEPAY_TREASURY_FEE_BPS", "250")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, types.SepoliaLINK.Feed, cfg.FeedAddress)
	assert.Equal(t, types.SepoliaLINK.Token, cfg.TokenAddress)
	assert.Equal(t, types.SepoliaLINK.Token, cfg.AssetAddress())
	assert.Equal(t, "LINK", cfg.AssetSymbol)
	assert.Equal(t, uint16(250), cfg.EngineConfig().TreasuryFeeBps)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "no price source", env: map[string]string{}},
		{name: "fee above 100%", env: map[string]string{"DEPAY_STATIC_PRICE": "1", "DEPAY_TREASURY_FEE_BPS": "10001"}},
		{name: "unknown asset kind", env: map[string]string{"DEPAY_STATIC_PRICE": "1", "DEPAY_ASSET_KIND": "nft"}},
		{name: "bad static price", env: map[string]string{"DEPAY_STATIC_PRICE": "-3"}},
		{name: "static price finer than its decimals", env: map[string]string{
			"DEPAY_STATIC_PRICE": "0.000000001", "DEPAY_STATIC_PRICE_DECIMALS": "8",
		}},
		{name: "bad address", env: map[string]string{"DEPAY_STATIC_PRICE": "1", "DEPAY_ENGINE_ADDRESS": "0x12"}},
		{name: "token without address", env: map[string]string{
			"DEPAY_STATIC_PRICE": "1", "DEPAY_ASSET_KIND": "erc20", "DEPAY_NETWORK": "local",
		}},
		{name: "bad log level", env: map[string]string{"DEPAY_STATIC_PRICE": "1", "DEPAY_LOG_LEVEL": "loud"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestParse_MissingRequired(t *testing.T) {
	t.Setenv("DEPAY_STATIC_PRICE", "1")
	t.Setenv("DEPAY_ENGINE_ADDRESS", "")
	t.Setenv("DEPAY_TREASURY_OPERATOR", "")
	_, err := Parse()
	assert.Error(t, err)
}
