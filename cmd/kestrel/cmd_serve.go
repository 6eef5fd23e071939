package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(os.Stdout)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides KESTREL_PORT)")
	return cmd
}

func serve(ctx context.Context, cfg *domain.Config, out io.Writer) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Rule table and classifier
	table, err := rules.LoadTable(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("failed to load rule table: %w", err)
	}
	classifier, err := rules.NewClassifier(table)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}
	slog.Info("classifier initialized",
		"rules_file", cfg.Rules.Path,
		"fingerprint", table.Fingerprint(),
	)

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	if repo != nil {
		defer repo.Close()
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Case store
	store := casestore.New(classifier, repo, busImpl)
	if err := store.Load(ctx); err != nil {
		return err
	}

	// Serious-case notifications
	notifier := worker.NewNotifier(busImpl, nil)
	if err := notifier.Start(); err != nil {
		return fmt.Errorf("failed to start notifier: %w", err)
	}
	defer notifier.Stop()

	srv := api.NewServer(cfg.Server, api.Deps{
		Store:      store,
		Table:      table,
		Classifier: cache.NewClassifierCache(classifier, cacheImpl, cfg.Cache.ResultTTL, table.Fingerprint()),
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Version:    Version,
	}, nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"cases", store.Len(),
	)
	printBanner(out, cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}

func printBanner(w io.Writer, cfg *domain.Config, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  ╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "  ║                 KESTREL                   ║")
	fmt.Fprintln(w, "  ║      Child-welfare intake triage          ║")
	fmt.Fprintln(w, "  ╚═══════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(w, "  Storage:  %s\n", cfg.Repository.Driver)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints (role via X-Role: user | admin | organization):")
	fmt.Fprintln(w, "    POST   /classify          - Classify observation text")
	fmt.Fprintln(w, "    GET    /cases             - List visible cases")
	fmt.Fprintln(w, "    POST   /cases             - Submit a case")
	fmt.Fprintln(w, "    GET    /cases/{id}        - Get a case")
	fmt.Fprintln(w, "    PUT    /cases/{id}        - Edit a case (admin, organization)")
	fmt.Fprintln(w, "    DELETE /cases/{id}        - Delete a case (admin, organization)")
	fmt.Fprintln(w, "    GET    /cases/stats       - Statistics over visible cases")
	fmt.Fprintln(w, "    POST   /cases/duplicates  - Find cases about the same child")
	fmt.Fprintln(w, "    GET    /rules             - Active rule table")
	fmt.Fprintln(w, "    GET    /health            - Health check")
	fmt.Fprintln(w)
}
