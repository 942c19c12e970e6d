package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/config"
	"github.com/sells-group/dupe-finder/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Server.MigrateOnStart {
			if err := env.Store.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildHandler(env, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		zap.L().Info("starting server", zap.Int("port", port))
		// env.Close runs only after in-flight requests have finished.
		return serveUntilDone(ctx, srv, srv.ListenAndServe, 30*time.Second)
	},
}

// serveUntilDone runs serve until it fails or ctx is cancelled, then shuts
// srv down and blocks until every in-flight request has returned or grace
// has elapsed.
func serveUntilDone(ctx context.Context, srv *http.Server, serve func() error, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- serve() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server listen")
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	return eris.Wrap(err, "server shutdown")
}

func buildHandler(env *appEnv, c *config.Config) http.Handler {
	return server.New(env.Search, env.Runner, env.Store, server.Config{
		AllowedOrigins: c.Server.AllowedOrigins,
		MaxImageBytes:  int64(c.Pipeline.MaxImageBytes),
		SearchTimeout:  time.Duration(c.Pipeline.SearchTimeoutSecs) * time.Second,
		Breakers:       env.Breakers,
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
