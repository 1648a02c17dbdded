package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"luxmarket/cmd/internal/passphrase"
	"luxmarket/config"
	"luxmarket/core"
	"luxmarket/core/genesis"
	"luxmarket/crypto"
	"luxmarket/observability/logging"
	telemetry "luxmarket/observability/otel"
	"luxmarket/rpc"
	"luxmarket/services/indexer"
	"luxmarket/storage"
)

const (
	operatorPassEnv = "LUX_OPERATOR_PASS"
	genesisPathEnv  = "LUX_GENESIS"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis spec (overrides LUX_GENESIS and config GenesisFile)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag); err != nil {
		fmt.Fprintf(os.Stderr, "marketd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, genesisFlag string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("marketd", cfg.Environment, logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	for _, key := range cfg.UnknownKeys() {
		logger.Warn("Ignoring unknown config key", slog.String("key", key))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.OTel(cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	operator, err := loadOperatorKey(cfg.OperatorKeystorePath, passphrase.NewSource(operatorPassEnv))
	if err != nil {
		return fmt.Errorf("load operator key: %w", err)
	}
	logger.Info("Operator key unlocked", slog.String("operator", operator.PubKey().Address().String()))

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	policy, err := cfg.Market.Policy()
	if err != nil {
		return err
	}
	node, err := core.NewNode(db, core.Config{
		ChainID:               new(big.Int).SetUint64(cfg.ChainID),
		DomainVersion:         cfg.Auth.DomainVersion,
		AllowLegacySignatures: cfg.Auth.AllowLegacySignatures,
		WithdrawPolicy:        policy,
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	node.SetLogger(logger)

	if cfg.Indexer.Enabled {
		ix, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, logger)
		if err != nil {
			return err
		}
		defer ix.Close()
		node.SetEmitter(ix)
		logger.Info("Event indexer attached", slog.String("driver", cfg.Indexer.Driver))
	}

	genesisPath := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err := applyGenesis(ctx, node, cfg, genesisPath, logger); err != nil {
		return err
	}

	secret := ""
	if env := strings.TrimSpace(cfg.Auth.JWTSecretEnv); env != "" {
		secret = os.Getenv(env)
	}
	if secret == "" {
		logger.Warn("Bearer authentication disabled; admin methods and relayed calls will be rejected",
			slog.String("env", cfg.Auth.JWTSecretEnv))
	}
	server := rpc.NewServer(node, logger, rpc.ServerConfig{
		MaxBodyBytes:       cfg.RPC.MaxBodyBytes,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		TrustProxyHeaders:  cfg.RPC.TrustProxyHeaders,
		JWTSecret:          secret,
		JWTIssuer:          cfg.Auth.JWTIssuer,
		JWTAudience:        cfg.Auth.JWTAudience,
		ReadHeaderTimeout:  cfg.RPC.ReadHeaderTimeoutDuration(),
		ReadTimeout:        cfg.RPC.ReadTimeoutDuration(),
		WriteTimeout:       cfg.RPC.WriteTimeoutDuration(),
		IdleTimeout:        cfg.RPC.IdleTimeoutDuration(),
	})

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.RPCAddress, err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	logger.Info("Marketplace node running", slog.String("rpc", listener.Addr().String()), slog.Uint64("chain_id", cfg.ChainID))

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("RPC shutdown failed", slog.Any("error", err))
	}
	return nil
}

// applyGenesis seeds a fresh database. Once genesis is recorded the spec is
// ignored.
func applyGenesis(ctx context.Context, node *core.Node, cfg *config.Config, path string, logger *slog.Logger) error {
	applied, err := node.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		if path != "" {
			logger.Info("Genesis already applied; ignoring spec", slog.String("path", path))
		}
		return nil
	}
	if path == "" {
		return fmt.Errorf("no genesis file provided; supply one via --genesis, %s, or config GenesisFile", genesisPathEnv)
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return err
	}
	cfg.Genesis.ApplyTo(spec)
	state, err := spec.Build()
	if err != nil {
		return fmt.Errorf("genesis with config overrides: %w", err)
	}
	if err := node.InitGenesis(ctx, state); err != nil {
		return fmt.Errorf("init genesis: %w", err)
	}
	return nil
}

type envLookupFunc func(string) (string, bool)

func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

// loadOperatorKey opens the operator keystore. Keystores created alongside a
// default config are sealed with an empty passphrase; anything else prompts.
func loadOperatorKey(path string, source *passphrase.Source) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("operator keystore path not configured")
	}
	if key, err := crypto.LoadFromKeystore(path, ""); err == nil {
		return key, nil
	}
	pass, err := source.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}
