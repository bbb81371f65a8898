// Command apollo-build builds, signs, and submits a single payment
// transaction end to end, wiring a concrete Provider and wallet to the
// builder. It is a thin demonstration harness, not a wallet CLI.
package main

import (
	"flag"
	"fmt"
	"os"

	apollo "github.com/opencardano/txforge"
	"github.com/opencardano/txforge/backend"
	"github.com/opencardano/txforge/backend/blockfrost"
	"github.com/opencardano/txforge/backend/fixed"
	"github.com/opencardano/txforge/cmd/apollo-build/internal/config"
	"github.com/opencardano/txforge/cmd/apollo-build/internal/logging"
	"github.com/opencardano/txforge/keys"
)

var cmdlineFlags struct {
	configFile string
	to         string
	lovelace   int64
}

func main() {
	flag.StringVar(&cmdlineFlags.configFile, "config", "", "path to YAML config file")
	flag.StringVar(&cmdlineFlags.to, "to", "", "bech32 destination address")
	flag.Int64Var(&cmdlineFlags.lovelace, "lovelace", 2_000_000, "lovelace to send")
	flag.Parse()

	cfg, err := config.Load(cmdlineFlags.configFile)
	if err != nil {
		fmt.Printf("failed to load config: %s\n", err)
		os.Exit(1)
	}

	logging.Configure()
	logger := logging.GetLogger()

	if cmdlineFlags.to == "" {
		logger.Error("missing -to destination address")
		os.Exit(1)
	}

	network := keys.NetworkTestnet
	var networkId uint8
	if cfg.Network == "mainnet" {
		network = keys.NetworkMainnet
		networkId = 1
	}

	wallet, err := apollo.NewNativeWallet(cfg.Wallet.Mnemonic, cfg.Wallet.Passphrase, network)
	if err != nil {
		logger.Error("failed to derive wallet", "error", err)
		os.Exit(1)
	}
	logger.Info("derived wallet", "address", wallet.Address().String())

	cc, err := newChainContext(cfg, networkId)
	if err != nil {
		logger.Error("failed to construct chain context", "error", err)
		os.Exit(1)
	}

	payment, err := apollo.NewPayment(cmdlineFlags.to, cmdlineFlags.lovelace, nil)
	if err != nil {
		logger.Error("invalid payment", "error", err)
		os.Exit(1)
	}

	builder := apollo.New(cc).
		SetWallet(wallet).
		AddInputAddress(wallet.Address()).
		AddPayment(payment)

	builder, err = builder.Complete()
	if err != nil {
		logger.Error("failed to complete transaction", "error", err)
		os.Exit(1)
	}

	signed, err := builder.Sign()
	if err != nil {
		logger.Error("failed to sign transaction", "error", err)
		os.Exit(1)
	}

	txHash, err := signed.Submit()
	if err != nil {
		logger.Error("failed to submit transaction", "error", err)
		os.Exit(1)
	}

	logger.Info("submitted transaction", "txHash", txHash.String())
	fmt.Println(txHash.String())
}

func newChainContext(cfg *config.Config, networkId uint8) (backend.ChainContext, error) {
	switch cfg.Provider.Kind {
	case "blockfrost":
		if cfg.Provider.BaseUrl == "" || cfg.Provider.ProjectId == "" {
			return nil, fmt.Errorf("blockfrost provider requires baseUrl and projectId")
		}
		return blockfrost.NewBlockFrostChainContext(cfg.Provider.BaseUrl, networkId, cfg.Provider.ProjectId), nil
	case "fixed", "":
		return fixed.NewEmptyFixedChainContext(), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", cfg.Provider.Kind)
	}
}
