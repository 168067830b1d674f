// Command authd serves the passkey authentication and recovery API. Identity
// records live on the Arkiv ledger; per-device signing keys live in an
// encrypted local keystore.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"mentormesh/internal/audit"
	"mentormesh/internal/ceremony"
	"mentormesh/internal/config"
	"mentormesh/internal/httpapi"
	"mentormesh/internal/ledger"
	"mentormesh/internal/recovery"
	"mentormesh/internal/token"
	"mentormesh/internal/wallet"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	log := logger.WithField("service", "authd")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ks, err := wallet.NewKeystore(cfg.KeystoreDir, cfg.KeystoreSecret)
	if err != nil {
		log.WithError(err).Fatal("failed to open keystore")
	}
	binding := wallet.NewBinding(ks, log)

	var store ledger.Store
	if cfg.ArkivEndpoint != "" {
		store = ledger.NewArkivClient(cfg.ArkivEndpoint, cfg.ArkivTimeout, log)
		log.WithField("endpoint", cfg.ArkivEndpoint).Info("using arkiv ledger")
	} else {
		store = ledger.NewMemoryStore()
		log.Warn("MM_ARKIV_ENDPOINT not set; identities held in memory only")
	}

	tokens, err := token.NewManager(cfg.TokenSecret, cfg.TokenIssuer, cfg.SessionTTL, cfg.ChallengeTTL)
	if err != nil {
		log.WithError(err).Fatal("failed to init token manager")
	}

	// Discovery is a second, wider directory consulted when the primary
	// misses a credential, for deployments with a local repository in
	// front of the shared Arkiv ledger. With a single store the fallback
	// could never see more than the primary, so it stays unset here.
	ceremonies, err := ceremony.New(ceremony.Config{
		RPID:           cfg.RPID,
		RPName:         cfg.RPName,
		AllowedOrigins: cfg.AllowedOrigins,
	}, store, nil, log)
	if err != nil {
		log.WithError(err).Fatal("failed to init ceremony engine")
	}

	recoveries := recovery.NewEngine(store, ceremonies, binding, log)
	auditor := audit.NewRecorder(store, log)

	handler := httpapi.NewHandler(ceremonies, recoveries, binding, store, tokens, auditor, log)
	router := httpapi.NewRouter(handler, cfg.AllowedOrigins, cfg.RateLimitRPS, cfg.RateLimitBurst, log)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown did not complete cleanly")
	}
	auditor.Wait()
}
