package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperwyvern/params"
	"github.com/uhyunpark/hyperwyvern/pkg/api"
	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
	"github.com/uhyunpark/hyperwyvern/pkg/orderbook"
	"github.com/uhyunpark/hyperwyvern/pkg/storage"
	"github.com/uhyunpark/hyperwyvern/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	journal, err := storage.NewFileJournal(cfg.Node.JournalPath)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "path", cfg.Node.JournalPath, "err", err)
	}
	defer journal.Close()

	// ---- Orderbook ----
	book := orderbook.New(store.DB(),
		orderbook.WithLimits(orderbook.Limits{
			Orders:    cfg.Orderbook.MaxOrders,
			Whitelist: cfg.Orderbook.MaxWhitelist,
		}),
		orderbook.WithLogger(sugar.Named("orderbook")),
	)

	// ---- Exchange ----
	domain := crypto.EIP712Domain{
		Name:              cfg.Exchange.DomainName,
		Version:           cfg.Exchange.DomainVersion,
		ChainID:           cfg.Exchange.ChainID,
		VerifyingContract: cfg.Exchange.Contract,
	}
	protocol := exchange.ProtocolConfig{
		Version:                 cfg.Protocol.Version,
		ProtocolFeeRecipient:    cfg.Protocol.ProtocolFeeRecipient,
		MinimumMakerProtocolFee: cfg.Protocol.MinimumMakerProtocolFee,
		MinimumTakerProtocolFee: cfg.Protocol.MinimumTakerProtocolFee,
		ExchangeToken:           cfg.Protocol.ExchangeToken,
	}

	opts := []exchange.Option{
		exchange.WithLogger(sugar.Named("exchange")),
		exchange.WithClock(util.RealClock{}),
	}
	if target := cfg.Orderbook.WhitelistTarget; target != (common.Address{}) {
		opts = append(opts, exchange.WithStaticChecker(orderbook.NewWhitelistChecker(book, target)))
		sugar.Infow("whitelist_checker_enabled", "target", target.Hex())
	}
	ex := exchange.New(domain, protocol, store, opts...)

	sugar.Infow("exchange_configured",
		"contract", domain.VerifyingContract.Hex(),
		"chain_id", domain.ChainID.String(),
		"protocol_version", protocol.Version,
		"min_maker_protocol_fee", protocol.MinimumMakerProtocolFee.String(),
		"min_taker_protocol_fee", protocol.MinimumTakerProtocolFee.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	server := api.NewServer(ex, store, book,
		api.WithJournal(journal),
		api.WithLogger(sugar.Named("api")),
		api.WithAllowedOrigins(cfg.Node.AllowedOrigins),
	)
	if err := server.Start(ctx, cfg.Node.APIAddr); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}

	sugar.Info("node_stopped")
}
