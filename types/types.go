package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// AssetKind represents the two settlement asset variants
type AssetKind string

const (
	AssetNative AssetKind = "native"
	AssetERC20  AssetKind = "erc20"
)

// NativeAsset is the address used to refer to the chain's native coin.
var NativeAsset = common.Address{}

// TreasuryAccount is the reserved balance slot holding treasury proceeds.
// Recipients can never be the zero address, so the slot cannot collide.
var TreasuryAccount = common.Address{}

// USDDecimals is the fixed-point precision of every USD amount.
const USDDecimals = 18

// MaxMemoLength bounds the memo carried by a payment.
const MaxMemoLength = 1024

// ExchangeRate is a price reading supplied by a PriceOracle.
// Price is the USD value of one whole settlement asset unit, scaled by 10^Decimals.
// Aggregators answer with a signed integer, so Price may be zero or negative.
type ExchangeRate struct {
	Price     *big.Int  `json:"price"`
	Decimals  uint8     `json:"decimals"`
	UpdatedAt time.Time `json:"updatedAt"`
	RoundID   *big.Int  `json:"roundId,omitempty"`
}

// IsPositive reports whether the rate carries a usable price.
func (r *ExchangeRate) IsPositive() bool {
	return r != nil && r.Price != nil && r.Price.Sign() > 0
}

// PaymentIntent is a single request to settle a USD amount to a recipient.
type PaymentIntent struct {
	Payer     common.Address `json:"payer"`
	Recipient common.Address `json:"recipient"`
	USDAmount *uint256.Int   `json:"usdAmount"`
	Memo      string         `json:"memo"`
	Hash      common.Hash    `json:"hash"`
}

// PayRequest carries the caller-supplied part of a PaymentIntent.
type PayRequest struct {
	Recipient common.Address
	USDAmount *uint256.Int
	Memo      string
	Hash      common.Hash
}

// CallContext describes who invokes an engine operation and, for the native
// variant, how much value was attached to the call.
type CallContext struct {
	From  common.Address
	Value *uint256.Int
}

// Credit is one balance increase applied while settling a payment.
type Credit struct {
	Owner  common.Address
	Amount *uint256.Int
}

// PaymentEvent is the public record emitted once a payment is settled.
type PaymentEvent struct {
	ID             uuid.UUID      `json:"id"`
	Payer          common.Address `json:"payer"`
	Recipient      common.Address `json:"recipient"`
	Amount         *uint256.Int   `json:"amount"`
	TreasuryAmount *uint256.Int   `json:"treasuryAmount"`
	USDAmount      *uint256.Int   `json:"usdAmount"`
	Memo           string         `json:"memo"`
	Hash           common.Hash    `json:"hash"`
	Asset          common.Address `json:"asset"`
	SettledAt      time.Time      `json:"settledAt"`
}

// Receipt is returned to the payer of a settled payment.
type Receipt struct {
	Event    PaymentEvent `json:"event"`
	Required *uint256.Int `json:"required"`
	Refunded *uint256.Int `json:"refunded"`
}

// Withdrawal describes a completed withdraw or treasury withdraw.
type Withdrawal struct {
	Owner  common.Address `json:"owner"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
	Asset  common.Address `json:"asset"`
}

// Config contains the configuration of a settlement engine
type Config struct {
	// Address the engine holds custody under; spender for token pulls.
	EngineAddress common.Address `json:"engineAddress"`

	// Operator allowed to drain the treasury balance.
	TreasuryOperator common.Address `json:"treasuryOperator"`

	// Share of each payment credited to the treasury, in basis points.
	TreasuryFeeBps uint16 `json:"treasuryFeeBps" validate:"lte=10000"`

	// Timeout for oracle reads and for the store calls made before funds move.
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`

	LogLevel      string    `json:"logLevel,omitempty"`
	EnableMetrics bool      `json:"enableMetrics,omitempty"`
	Extra         ExtraData `json:"extra,omitempty"`
}

// ExtraData contains additional engine-specific data
type ExtraData map[string]interface{}
