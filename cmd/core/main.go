package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/takedaservice/nasiya/merchant-core-go/internal/api"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/connectivity"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/debt"
	debtrepo "github.com/takedaservice/nasiya/merchant-core-go/internal/debt/repo"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/router"
	"github.com/takedaservice/nasiya/merchant-core-go/internal/session"
	"github.com/takedaservice/nasiya/merchant-core-go/pkg/localstore"
	"github.com/takedaservice/nasiya/merchant-core-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.InitLogger(utilities.LogConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting nasiya merchant core")

	// open the local store
	store, err := localstore.Open(localstore.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("store open: %v", err)
	}
	defer store.Close()

	// backend client, authorized through the session-owned token store
	apiCfg := api.ConfigFromEnv()
	backend := api.NewClient(apiCfg, session.NewTokenStore(store), sugar)

	// connectivity monitor probes the backend host
	monitor := connectivity.NewMonitor(connectivity.ConfigFromEnv(), connectivity.NewDialProber(apiCfg.BaseURL), nil, sugar)

	// session authority restores persisted state before the gateway opens
	authority := session.NewAuthority(session.ConfigFromEnv(), store, backend, nil, nil, sugar)
	defer authority.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authority.RestoreSession(ctx)
	monitor.Start(ctx)
	defer monitor.Stop()

	favorites := debtrepo.NewFavoritesRepo(store.DB())
	if err := favorites.EnsureTable(ctx); err != nil {
		sugar.Fatalf("favorites schema: %v", err)
	}

	aggregator := debt.NewAggregator(sugar)
	sessionHandler := session.NewHandler(authority, monitor, sugar)
	debtHandler := debt.NewHandler(backend, aggregator, favorites, sugar)

	addr := os.Getenv("CORE_LISTEN_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8732"
	}

	handler := router.RegisterRoutes(sugar, sessionHandler, debtHandler, authority, monitor)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// run the gateway in background
	go func() {
		sugar.Infow("gateway listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("gateway failed: %v", err)
		}
	}()

	sugar.Info("core is running; press Ctrl+C to stop")

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("gateway shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
