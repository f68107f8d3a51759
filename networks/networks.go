// Package networks holds per-network constants: chain ids, PaymentPermit
// deployments, zero addresses and public RPC endpoints.
package networks

import (
	"fmt"
	"math/big"

	x402 "github.com/bankofai/x402-tron"
)

// Family is the namespace part of a network id
type Family string

const (
	FamilyEVM  Family = "eip155"
	FamilyTRON Family = "tron"
)

const (
	TronMainnet x402.Network = "tron:mainnet"
	TronShasta  x402.Network = "tron:shasta"
	TronNile    x402.Network = "tron:nile"

	EthereumMainnet x402.Network = "eip155:1"
	EthereumSepolia x402.Network = "eip155:11155111"
	Base            x402.Network = "eip155:8453"
	BaseSepolia     x402.Network = "eip155:84532"

	AllEVM  x402.Network = "eip155:*"
	AllTRON x402.Network = "tron:*"
)

const (
	TronZeroAddress = "T9yD14Nj9j7xAB4dbGeiX9h8unkKHxuWwb"
	EvmZeroAddress  = "0x0000000000000000000000000000000000000000"
)

// Default EIP-712 domain of the PaymentPermit contract
const (
	PermitDomainName    = "PaymentPermit"
	PermitDomainVersion = "1"
)

var tronChainIDs = map[x402.Network]int64{
	TronMainnet: 728126428,
	TronShasta:  2494104990,
	TronNile:    3448148188,
}

var tronPermitContracts = map[x402.Network]string{
	TronMainnet: "TT8rEWbCoNX7vpEUauxb7rWJsTgs8vDLAn",
	TronShasta:  "TR2XninQ3jsvRRLGTifFyUHTBysffooUjt",
	TronNile:    "TFxDcGvS7zfQrS1YzcCMp673ta2NHHzsiH",
}

// No EVM network has a PaymentPermit deployment yet; deployments are passed
// to the mechanisms explicitly.
var evmPermitContracts = map[x402.Network]string{}

var tronGridURLs = map[x402.Network]string{
	TronMainnet: "https://api.trongrid.io",
	TronShasta:  "https://api.shasta.trongrid.io",
	TronNile:    "https://nile.trongrid.io",
}

// FamilyOf returns the family of network
func FamilyOf(network x402.Network) (Family, error) {
	switch Family(network.Family()) {
	case FamilyEVM:
		return FamilyEVM, nil
	case FamilyTRON:
		return FamilyTRON, nil
	}
	return "", &x402.UnsupportedNetworkError{Network: network}
}

// IsEVM reports whether network belongs to the eip155 family
func IsEVM(network x402.Network) bool {
	return Family(network.Family()) == FamilyEVM
}

// IsTRON reports whether network belongs to the tron family
func IsTRON(network x402.Network) bool {
	return Family(network.Family()) == FamilyTRON
}

// ChainID returns the EIP-712 chain id of network
func ChainID(network x402.Network) (*big.Int, error) {
	family, reference, err := network.Parse()
	if err != nil {
		return nil, &x402.UnsupportedNetworkError{Network: network}
	}

	switch Family(family) {
	case FamilyEVM:
		id, ok := new(big.Int).SetString(reference, 10)
		if !ok || id.Sign() <= 0 {
			return nil, &x402.UnsupportedNetworkError{Network: network}
		}
		return id, nil
	case FamilyTRON:
		id, ok := tronChainIDs[network]
		if !ok {
			return nil, &x402.UnsupportedNetworkError{Network: network}
		}
		return big.NewInt(id), nil
	}
	return nil, &x402.UnsupportedNetworkError{Network: network}
}

// PaymentPermitAddress returns the PaymentPermit contract deployed on network.
// A network without a deployment is a *x402.ConfigurationError.
func PaymentPermitAddress(network x402.Network) (string, error) {
	var table map[x402.Network]string
	switch {
	case IsTRON(network):
		table = tronPermitContracts
	case IsEVM(network):
		table = evmPermitContracts
	default:
		return "", &x402.UnsupportedNetworkError{Network: network}
	}

	addr, ok := table[network]
	if !ok || addr == ZeroAddress(network) {
		return "", &x402.ConfigurationError{
			Setting: "permitContract",
			Reason:  fmt.Sprintf("no PaymentPermit contract deployed on %s", network),
		}
	}
	return addr, nil
}

// ZeroAddress returns the family's zero address in native form
func ZeroAddress(network x402.Network) string {
	if IsTRON(network) {
		return TronZeroAddress
	}
	return EvmZeroAddress
}

// TronGridURL returns the public TronGrid endpoint of a TRON network
func TronGridURL(network x402.Network) (string, error) {
	url, ok := tronGridURLs[network]
	if !ok {
		return "", &x402.UnsupportedNetworkError{Network: network}
	}
	return url, nil
}

// TronNetworks lists the known TRON networks
func TronNetworks() []x402.Network {
	return []x402.Network{TronMainnet, TronShasta, TronNile}
}
