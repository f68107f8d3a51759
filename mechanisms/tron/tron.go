// Package tron composes the exact_permit and native_exact schemes for tron:*
// networks and reads native_exact transfers through TronGrid.
package tron

import (
	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/mechanisms/native"
	"github.com/bankofai/x402-tron/mechanisms/permit"
	"github.com/bankofai/x402-tron/networks"
	"github.com/bankofai/x402-tron/tokens"
)

// Config holds deployment specific settings shared by the constructors
type Config struct {
	// PermitContracts overrides the built-in PaymentPermit deployments
	PermitContracts map[x402.Network]string
	// Tokens defaults to tokens.DefaultRegistry()
	Tokens *tokens.Registry
	// MinConfirmations overrides native.DefaultTRONConfirmations
	MinConfirmations uint64
}

func (cfg Config) PermitChain() permit.Chain {
	chain := permit.TRON()
	for network, contract := range cfg.PermitContracts {
		chain = chain.WithPermitContract(network, contract)
	}
	return chain
}

func (cfg Config) NativeChain() native.Chain {
	chain := native.TRON()
	if cfg.MinConfirmations > 0 {
		chain.MinConfirmations = cfg.MinConfirmations
	}
	return chain
}

func NewExactPermitClient(signer x402.ClientSigner, cfg Config, opts ...permit.ClientOption) *permit.ClientScheme {
	return permit.NewClientScheme(signer, cfg.PermitChain(), opts...)
}

func NewExactPermitFacilitator(signer x402.FacilitatorSigner, cfg Config, opts ...permit.FacilitatorOption) *permit.FacilitatorScheme {
	return permit.NewFacilitatorScheme(signer, cfg.PermitChain(), opts...)
}

func NewExactPermitServer(cfg Config) *permit.ServerScheme {
	return permit.NewServerScheme(cfg.PermitChain(), cfg.Tokens)
}

func NewNativeExactClient(sender native.TransferSender, cfg Config, opts ...native.ClientOption) *native.ClientScheme {
	return native.NewClientScheme(sender, cfg.NativeChain(), opts...)
}

func NewNativeExactFacilitator(adapter native.ChainAdapter, cfg Config, opts ...native.FacilitatorOption) *native.FacilitatorScheme {
	return native.NewFacilitatorScheme(adapter, cfg.NativeChain(), opts...)
}

func NewNativeExactServer(cfg Config) *native.ServerScheme {
	return native.NewServerScheme(cfg.NativeChain(), cfg.Tokens)
}

// RegisterClient registers every scheme signer can pay with. Patterns
// default to tron:*.
func RegisterClient(client *x402.X402Client, signer interface{}, cfg Config, networkPatterns ...x402.Network) *x402.X402Client {
	if len(networkPatterns) == 0 {
		networkPatterns = []x402.Network{networks.AllTRON}
	}
	for _, pattern := range networkPatterns {
		if s, ok := signer.(x402.ClientSigner); ok {
			client.Register(pattern, NewExactPermitClient(s, cfg))
		}
		if s, ok := signer.(native.TransferSender); ok {
			client.Register(pattern, NewNativeExactClient(s, cfg))
		}
	}
	return client
}

// RegisterFacilitator registers exact_permit for signer and native_exact for
// adapter, skipping whichever is nil
func RegisterFacilitator(facilitator *x402.X402Facilitator, signer x402.FacilitatorSigner, adapter native.ChainAdapter, cfg Config, nets ...x402.Network) *x402.X402Facilitator {
	if signer != nil {
		facilitator.Register(nets, NewExactPermitFacilitator(signer, cfg))
	}
	if adapter != nil {
		facilitator.Register(nets, NewNativeExactFacilitator(adapter, cfg))
	}
	return facilitator
}

func RegisterServer(server *x402.X402ResourceServer, cfg Config) *x402.X402ResourceServer {
	server.Register(networks.AllTRON, NewExactPermitServer(cfg))
	server.Register(networks.AllTRON, NewNativeExactServer(cfg))
	return server
}
