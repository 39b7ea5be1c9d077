package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fineu/fineu-core/internal/lifecycle"
	"github.com/fineu/fineu-core/internal/progression"
	"github.com/fineu/fineu-core/internal/store"
	"github.com/fineu/fineu-core/pkg/graceful"
	"github.com/fineu/fineu-core/pkg/logger"
)

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow session changes and sweep balances until interrupted",
		Long: `Keeps this context in step with sign-ins, sign-outs and level changes made by
other contexts sharing the backend, and runs the balance integrity check on the
configured interval. When metrics.addr is set, /metrics, /healthz and /readyz are
served there.`,
		Args: cobra.NoArgs,
		RunE: c.run(runWatch),
	}
}

func runWatch(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	sub := a.engine.OnChange(func(_ context.Context, ev progression.Event) error {
		printEvent(out, a.session.UserID(), ev)
		return nil
	})
	defer sub.Unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Sync(gctx, a.backend)
	})

	sweeper := store.NewSweeper(a.store, a.cfg.Store.IntegrityInterval, a.log)
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	if addr := a.cfg.Metrics.Addr; addr != "" {
		probes := lifecycle.NewProbes(a.log, a.health)
		server := graceful.NewServer(a.log, addr, logger.Middleware(opsMux(probes)), a.cfg.Metrics.ShutdownTimeout)
		g.Go(func() error {
			return server.ListenAndServe(gctx)
		})
	}

	a.log.Info("watching for changes", slog.String("driver", a.cfg.Storage.Driver))
	fmt.Fprintln(out, "watching, press Ctrl+C to stop")

	return g.Wait()
}

func printEvent(w io.Writer, userID string, ev progression.Event) {
	switch {
	case userID == "":
		fmt.Fprintln(w, "signed out")
	case ev.IsTransition():
		fmt.Fprintf(w, "%s: %s -> %s (%d exp)\n", userID, ev.PreviousKey, ev.NewKey, ev.Experience)
	default:
		fmt.Fprintf(w, "%s: %s (%d exp)\n", userID, ev.Level.DisplayName, ev.Experience)
	}
}

func opsMux(probes lifecycle.HealthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", probeHandler(probes.Liveness))
	mux.HandleFunc("/readyz", probeHandler(probes.Readiness))
	return mux
}

func probeHandler(probe func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := probe(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	}
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the configured storage backend",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			results := a.health.Check(ctx)
			for _, name := range a.health.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", name, results[name])
			}
			return lifecycle.NewProbes(a.log, a.health).Readiness(ctx)
		}),
	}
}
