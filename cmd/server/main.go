package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chat-wallet/chat-wallet/internal/api"
	"github.com/chat-wallet/chat-wallet/internal/app"
	"github.com/chat-wallet/chat-wallet/internal/config"
	"github.com/chat-wallet/chat-wallet/internal/keyvault"
	"github.com/chat-wallet/chat-wallet/internal/ledger"
	"github.com/chat-wallet/chat-wallet/internal/logger"
	"github.com/chat-wallet/chat-wallet/internal/session"
	"github.com/chat-wallet/chat-wallet/internal/storage"
	"github.com/chat-wallet/chat-wallet/pkg/typeddata"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	store, err := storage.New(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	// Initialize cipher backend
	cipher, err := keyvault.NewCipher(&keyvault.Config{
		Backend:           cfg.CipherBackend,
		LocalMasterSecret: cfg.LocalMasterSecret,
		AWSKMSKeyID:       cfg.AWSKMSKeyID,
		AWSKMSRegion:      cfg.AWSKMSRegion,
		VaultAddress:      cfg.VaultAddress,
		VaultToken:        cfg.VaultToken,
		VaultTransitKey:   cfg.VaultTransitKey,
	})
	if err != nil {
		slog.Error("failed to initialize cipher backend", "error", err)
		os.Exit(1)
	}
	slog.Info("initialized cipher backend", "provider", cipher.Provider())

	// Load the relay key, generating one on first boot
	relayRepo := storage.NewRelayKeyRepository(store)
	signer, err := loadRelaySigner(ctx, relayRepo, cipher)
	if err != nil {
		slog.Error("failed to load relay key", "error", err)
		os.Exit(1)
	}
	slog.Info("relay signer ready", "address", signer.Address().Hex())

	// Connect to the ledger
	chain, err := ledger.NewEthClient(cfg.RPCURL, common.HexToAddress(cfg.VaultContract), signer)
	if err != nil {
		slog.Error("failed to connect to ledger", "error", err)
		os.Exit(1)
	}
	defer chain.Close()

	slog.Info("connected to ledger", "chain_id", chain.ChainID(), "vault", cfg.VaultContract)

	// Initialize application services
	actions := app.NewActionService(app.Options{
		Accounts:     storage.NewAccountRepository(store),
		Transactions: storage.NewTransactionRepository(store),
		Contacts:     storage.NewContactRepository(store),
		Ledger:       chain,
		Cipher:       cipher,
		Evaluator:    session.NewEvaluator(cfg.SessionWindow),
		Challenges:   session.NewChallengeStore(cfg.ChallengeTTL),
		Domain: typeddata.Domain{
			Name:              cfg.DomainName,
			Version:           cfg.DomainVersion,
			ChainID:           chain.ChainID(),
			VerifyingContract: common.HexToAddress(cfg.VaultContract),
		},
		SigningBaseURL: cfg.SigningBaseURL,
	})

	// Initialize API server
	server := api.NewServer(cfg, actions, storage.NewTransactionRepository(store))

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}

// loadRelaySigner reconstructs the relay signer from the stored share set,
// generating and persisting a fresh key on first boot.
func loadRelaySigner(ctx context.Context, repo *storage.RelayKeyRepository, cipher keyvault.Cipher) (*keyvault.RelaySigner, error) {
	rec, err := repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		shares, address, err := keyvault.GenerateRelayKey(ctx, cipher)
		if err != nil {
			return nil, err
		}
		rec = &storage.RelayKeyRecord{
			Address:     address.Hex(),
			StoreShare:  shares.StoreShare,
			SealedShare: shares.SealedShare,
		}
		if err := repo.Create(ctx, rec); err != nil {
			return nil, err
		}
		slog.Info("generated relay key", "address", rec.Address)
	}

	return keyvault.NewRelaySigner(ctx, cipher, rec.StoreShare, rec.SealedShare)
}
