package main

import (
	"context"
	"fmt"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/config"
	"github.com/bankofai/x402-tron/logger"
	"github.com/bankofai/x402-tron/mechanisms/evm"
	"github.com/bankofai/x402-tron/mechanisms/native"
	"github.com/bankofai/x402-tron/mechanisms/permit"
	"github.com/bankofai/x402-tron/mechanisms/tron"
	"github.com/bankofai/x402-tron/metrics"
	"github.com/bankofai/x402-tron/pkg/trongrid"
	evmsigner "github.com/bankofai/x402-tron/signers/evm"
	tronsigner "github.com/bankofai/x402-tron/signers/tron"
)

// closer releases chain connections opened by newFacilitator
type closer func()

// newFacilitator registers a scheme pair per configured chain family and
// instruments the result with rec
func newFacilitator(ctx context.Context, cfg *config.Config, log logger.Logger, rec metrics.Recorder) (*x402.X402Facilitator, closer, error) {
	facilitator := x402.NewX402Facilitator(
		x402.WithFacilitatorLogger(log),
		x402.WithSettlementCache(x402.NewSettlementCache(cfg.SettlementCacheTTL)),
	)
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.EVM != nil {
		adapter, client, err := evm.Dial(ctx, cfg.EVM.RPCURL)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, client.Close)

		signer, err := evmsigner.NewFacilitatorSigner(cfg.EVM.PrivateKey, client,
			evmsigner.WithReceiptPolling(cfg.ReceiptTimeout, cfg.ReceiptPollInterval))
		if err != nil {
			return nil, closeAll, fmt.Errorf("evm signer: %w", err)
		}

		chainCfg := evm.Config{PermitContracts: cfg.EVM.PermitContracts, MinConfirmations: cfg.EVM.MinConfirmations}
		facilitator.Register(cfg.EVM.Networks, evm.NewExactPermitFacilitator(signer, chainCfg, permit.WithReceiptTimeout(cfg.ReceiptTimeout)))
		facilitator.Register(cfg.EVM.Networks, evm.NewNativeExactFacilitator(adapter, chainCfg, native.WithSettleWait(cfg.ReceiptTimeout, cfg.ReceiptPollInterval)))

		log.Info("registered evm schemes", map[string]interface{}{
			"address":  signer.Address(),
			"networks": cfg.EVM.Networks,
		})
	}

	if cfg.TRON != nil {
		node := trongrid.NewClient(trongrid.Config{BaseURL: cfg.TRON.GridURL, APIKey: cfg.TRON.APIKey})
		signer, err := tronsigner.NewFacilitatorSigner(cfg.TRON.PrivateKey, node,
			tronsigner.WithReceiptPolling(cfg.ReceiptTimeout, cfg.ReceiptPollInterval))
		if err != nil {
			return nil, closeAll, fmt.Errorf("tron signer: %w", err)
		}

		chainCfg := tron.Config{MinConfirmations: cfg.TRON.MinConfirmations}
		nets := []x402.Network{cfg.TRON.Network}
		facilitator.Register(nets, tron.NewExactPermitFacilitator(signer, chainCfg, permit.WithReceiptTimeout(cfg.ReceiptTimeout)))
		facilitator.Register(nets, tron.NewNativeExactFacilitator(tron.NewChainAdapter(node), chainCfg, native.WithSettleWait(cfg.ReceiptTimeout, cfg.ReceiptPollInterval)))

		log.Info("registered tron schemes", map[string]interface{}{
			"address": signer.Address(),
			"network": string(cfg.TRON.Network),
		})
	}

	metrics.InstrumentFacilitator(facilitator, rec)
	return facilitator, closeAll, nil
}
