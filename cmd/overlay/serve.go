package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/fleet-overlay/internal/api"
	"github.com/banshee-data/fleet-overlay/internal/config"
	"github.com/banshee-data/fleet-overlay/internal/db"
	"github.com/banshee-data/fleet-overlay/internal/fleet"
	"github.com/banshee-data/fleet-overlay/internal/httputil"
	"github.com/banshee-data/fleet-overlay/internal/overlay"
	"github.com/banshee-data/fleet-overlay/internal/rmf"
	"github.com/banshee-data/fleet-overlay/internal/timeutil"
	"github.com/banshee-data/fleet-overlay/internal/visualiser"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	listen     string
	grpcListen string
	maxClients int
	watch      bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	so := serveOptions{}
	defaults := visualiser.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the overlay host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, g, so)
		},
	}
	cmd.Flags().StringVar(&so.listen, "listen", ":8081", "HTTP API listen address")
	cmd.Flags().StringVar(&so.grpcListen, "grpc-listen", defaults.ListenAddr, "Renderer gRPC listen address")
	cmd.Flags().IntVar(&so.maxClients, "max-clients", defaults.MaxClients, "Maximum concurrent frame streams")
	cmd.Flags().BoolVar(&so.watch, "watch-config", true, "Reload the tuning config when it changes")
	return cmd
}

func runServe(ctx context.Context, g *globalOptions, so serveOptions) error {
	tuning, err := config.LoadTuningConfig(g.configPath)
	if err != nil {
		return err
	}
	clock := timeutil.RealClock{}
	cache := fleet.NewCache()
	session := overlay.NewSession(cache, tuning, clock)

	pub := visualiser.NewPublisher(visualiser.Config{ListenAddr: so.grpcListen, MaxClients: so.maxClients})
	session.AddPublishSink(pub)

	var journal *db.DB
	var sessionID string
	if g.dbPath != "" {
		journal, err = db.Open(g.dbPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		sessionID, err = journal.StartSession(ctx, "", tuning, clock.Now())
		if err != nil {
			return err
		}
		session.AddPersistenceSink(db.NewSessionJournal(journal, sessionID, clock.Now))
		logger.Logf("journaling session %s to %s", sessionID, g.dbPath)
	}

	httpClient := httputil.NewStandardClient(&http.Client{Timeout: tuning.GetRequestTimeout()})
	fleetAPI := rmf.NewClient(httpClient, tuning.GetFleetAPIURL(), tuning.GetDashboardURL())
	trajectories := rmf.NewTrajectoryClient(tuning.GetTrajectoryServerURL(), tuning.GetRequestTimeout())
	defer trajectories.Close()

	runner := &overlay.Runner{
		Session:      session,
		Cache:        cache,
		Robots:       fleetAPI,
		Trajectories: trajectories,
		Clock:        clock,
	}
	srv := &http.Server{
		Addr:    so.listen,
		Handler: api.LoggingMiddleware(api.NewServer(session, fleetAPI, journal, sessionID).ServeMux()),
	}

	if err := pub.Start(); err != nil {
		return fmt.Errorf("failed to start renderer service: %w", err)
	}
	defer pub.Stop()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return runner.Run(ctx) })
	if so.watch {
		grp.Go(func() error {
			return config.Watch(ctx, g.configPath, func(c *config.TuningConfig) {
				session.SetTuning(c)
			})
		})
	}
	grp.Go(func() error {
		logger.Logf("HTTP API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = grp.Wait()
	logger.Logf("shut down")
	return err
}
