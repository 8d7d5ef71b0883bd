package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"launchpool/config"
	"launchpool/core/events"
	"launchpool/native/amm"
	"launchpool/native/ledger"
	"launchpool/native/locker"
	"launchpool/native/registry"
	"launchpool/native/sale"
	"launchpool/observability/logging"
	"launchpool/rpc"
	"launchpool/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memory := flag.Bool("memory", false, "DEV ONLY: keep all state in memory instead of the data directory")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LAUNCHPOOL_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("launchpoold", env, cfg.LogFile)

	var db storage.Database
	if *memory {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
		db = leveldb
	}
	defer db.Close()

	store, err := storage.NewSaleStore(db)
	if err != nil {
		logger.Error("Failed to load sale records", slog.Any("error", err))
		os.Exit(1)
	}

	governance, err := cfg.GovernanceAddress()
	if err != nil {
		logger.Error("Invalid governance address", slog.Any("error", err))
		os.Exit(1)
	}
	registryAddr, err := cfg.Registry()
	if err != nil {
		logger.Error("Invalid registry address", slog.Any("error", err))
		os.Exit(1)
	}
	lockerAddr, err := cfg.Locker()
	if err != nil {
		logger.Error("Invalid locker address", slog.Any("error", err))
		os.Exit(1)
	}
	creationFee, err := cfg.CreationFee()
	if err != nil {
		logger.Error("Invalid creation fee", slog.Any("error", err))
		os.Exit(1)
	}

	ring := events.NewRing(1024)

	bank := ledger.NewLedger()
	router := amm.NewRouter(bank, bank.Currency())
	vault := locker.NewVault(lockerAddr, bank)

	sales := sale.NewEngine()
	sales.SetState(store)
	sales.SetLedger(bank)
	sales.SetCurrency(bank.Currency())
	sales.SetRouter(router)
	sales.SetLocker(vault)
	sales.SetEmitter(ring)

	reg := registry.NewEngine(registryAddr, governance, creationFee, cfg.CurrencyFeePct, cfg.TokenFeePct)
	reg.SetSaleEngine(sales)
	reg.SetLedger(bank)
	reg.SetCurrency(bank.Currency())
	reg.SetEmitter(ring)
	sales.SetRegistry(reg, registryAddr)

	if err := reg.Restore(store); err != nil {
		logger.Error("Failed to rebuild registry indexes", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(sales, reg, ring, logger, cfg.RPCRateLimit, cfg.RPCRateBurst)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("launchpoold starting",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.Bool("memory", *memory))

	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("launchpoold stopped")
}
