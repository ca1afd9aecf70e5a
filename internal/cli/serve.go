package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/qagent/pkg/kernel"
)

func (a *app) serveCommand() *cobra.Command {
	var (
		addr     string
		textLogs bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the agent over HTTP. POST /v1/ask runs the agent loop, POST /v1/search
answers from retrieved passages and GET /v1/events streams run steps.
Traces are kept in DuckDB when server.trace_db is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if !textLogs {
				level := slog.LevelInfo
				if a.cfg.UI.Verbose {
					level = slog.LevelDebug
				}
				a.logger = slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: level}))
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&textLogs, "text-logs", false, "log in the terminal format instead of JSON")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	rt, err := a.newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	loop, err := rt.questionLoop()
	if err != nil {
		return err
	}
	api := kernel.NewServer(logger, loop, rt.ragAnswerer(), rt.tracer, kernel.Options{
		EventBus: rt.bus,
		Settings: a.settings,
		Traces:   rt.set.Traces,
	})

	c := cors.New(cors.Options{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           c.Handler(api.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting api server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
