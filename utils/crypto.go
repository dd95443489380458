package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/types"
)

// PaymentHash derives the payment-intent hash the way clients compute it:
// keccak256 over the packed encoding of (address recipient, uint256 usd, string memo).
func PaymentHash(recipient common.Address, usd *uint256.Int, memo string) common.Hash {
	var amount [32]byte
	if usd != nil {
		amount = usd.Bytes32()
	}
	return crypto.Keccak256Hash(recipient.Bytes(), amount[:], []byte(memo))
}

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, types.NewError(types.ErrCodeInvalidRequest, "invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash parses a 0x-prefixed 32-byte hex hash.
func ParseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return common.Hash{}, types.NewError(types.ErrCodeInvalidRequest, "invalid hash: %v", err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, types.NewError(types.ErrCodeInvalidRequest,
			"hash must be %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// ShortHash renders the first bytes of h for log lines.
func ShortHash(h common.Hash) string {
	return fmt.Sprintf("%x…", h[:6])
}
