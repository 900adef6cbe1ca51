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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/gemini-chat/internal/app"
	"github.com/zhouzirui/gemini-chat/internal/config"
	"github.com/zhouzirui/gemini-chat/internal/handler"
	"github.com/zhouzirui/gemini-chat/internal/logging"
)

const janitorInterval = time.Minute

type options struct {
	addr     string
	envFile  string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "gemini-chat",
		Short:         "Serve the Gemini chat UI and API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address, overrides PORT")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	return cmd
}

func run(ctx context.Context, opts options) error {
	envErr := godotenv.Load(opts.envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		if cfg.Server.Addr, err = config.ParseAddr(opts.addr); err != nil {
			return err
		}
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	closer, err := logging.Setup(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	if envErr != nil {
		log.Warn().Err(envErr).Str("file", opts.envFile).Msg("continuing with system environment variables only")
	}

	a, err := app.New(ctx, cfg.AI)
	if err != nil {
		return err
	}
	defer a.Chats.Shutdown()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(a.Profiles, a.Chats, a.Presenter),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("provider", a.Provider.Name()).Msg("gemini chat listening")
		return runServer(gctx, srv)
	})
	g.Go(func() error {
		return a.Chats.RunJanitor(gctx, janitorInterval, cfg.Server.SessionIdleTTL)
	})

	err = g.Wait()
	log.Info().Msg("server stopped")
	return err
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
