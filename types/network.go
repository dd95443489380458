package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Network names a chain the engine can be deployed against.
type Network string

const (
	NetworkSepolia Network = "sepolia"
	NetworkLocal   Network = "local"
)

// Deployment describes the external collaborators for one engine variant.
type Deployment struct {
	Network Network
	Kind    AssetKind
	Symbol  string
	// Price feed reporting the USD price of the settlement asset.
	Feed common.Address
	// ERC20 contract for the token variant; zero for native.
	Token common.Address
}

// Known deployments. Feed addresses are Chainlink aggregators.
var (
	SepoliaNative = Deployment{
		Network: NetworkSepolia,
		Kind:    AssetNative,
		Symbol:  "ETH",
		Feed:    common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306"), // ETH/USD
	}

	SepoliaLINK = Deployment{
		Network: NetworkSepolia,
		Kind:    AssetERC20,
		Symbol:  "LINK",
		Feed:    common.HexToAddress("0xc59E3633BAAC79493d908e63626716e204A45EdF"), // LINK/USD
		Token:   common.HexToAddress("0x779877A7B0D9E8603169DdbD7836e478b4624789"),
	}
)

// LookupDeployment returns the known deployment for a network and asset kind.
func LookupDeployment(network Network, kind AssetKind) (Deployment, error) {
	for _, d := range []Deployment{SepoliaNative, SepoliaLINK} {
		if d.Network == network && d.Kind == kind {
			return d, nil
		}
	}
	return Deployment{}, NewError(ErrCodeConfigError, "no known %s deployment on %s", kind, network)
}

// AssetAddress is the address TreasuryWithdraw expects for this deployment.
func (d Deployment) AssetAddress() common.Address {
	if d.Kind == AssetNative {
		return NativeAsset
	}
	return d.Token
}

func (n Network) String() string {
	return string(n)
}

func (k AssetKind) Valid() error {
	switch k {
	case AssetNative, AssetERC20:
		return nil
	default:
		return fmt.Errorf("unknown asset kind %q", string(k))
	}
}
