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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/flamebridge/internal/api"
	"github.com/DoyleJ11/flamebridge/internal/board"
	"github.com/DoyleJ11/flamebridge/internal/config"
	"github.com/DoyleJ11/flamebridge/internal/engine"
	"github.com/DoyleJ11/flamebridge/internal/gate"
	"github.com/DoyleJ11/flamebridge/internal/httpapi"
	"github.com/DoyleJ11/flamebridge/internal/journal"
	"github.com/DoyleJ11/flamebridge/internal/session"
	"github.com/DoyleJ11/flamebridge/internal/transport"
)

const shutdownGrace = 5 * time.Second

type flags struct {
	envFile    string
	mode       string
	statusAddr string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "flamebridge:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "flamebridge",
		Short: "Bridge a Jiuqi board between the game server and the FlameChess engine",
		Long: `flamebridge subscribes to a board's STOMP topic on the game server, asks the
FlameChess engine for the next position whenever the board changes, and
publishes the answer back through the REST API.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "env file to load before reading the environment (default .env if present)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "compute or observe (overrides BRIDGE_MODE)")
	cmd.Flags().StringVar(&f.statusAddr, "status-addr", "", "listen address for the status server (overrides STATUS_ADDR)")
	return cmd
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return err
	}
	if f.mode != "" {
		mode, err := session.ParseMode(f.mode)
		if err != nil {
			return fmt.Errorf("%w: --mode: %v", config.ErrConfiguration, err)
		}
		cfg.Mode = mode
	}
	if f.statusAddr != "" {
		cfg.StatusAddr = f.statusAddr
	}

	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := session.Deps{
		Dial: func(ctx context.Context) (session.Conn, error) {
			conn, err := transport.Dial(ctx, cfg.WSURL, log)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		StartEngine: func(ctx context.Context) (session.Computer, error) {
			p, err := engine.Start(ctx, engine.Config{
				Command: cfg.EngineCommand,
				Timeout: cfg.EngineTimeout,
				Shape:   board.Standard,
				Logger:  log,
			})
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		API: api.NewClient(cfg.APIURL, &http.Client{Timeout: cfg.HTTPTimeout}, log),
	}

	var moves httpapi.MoveLister
	if cfg.DatabaseURL != "" {
		j, err := journal.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Warn("close journal", zap.Error(err))
			}
		}()
		deps.Journal = j
		moves = j
	}

	s := session.New(session.Config{
		Mode:   cfg.Mode,
		GameID: cfg.GameID,
		UserID: cfg.UserID,
		Shape:  board.Standard,
		Gate:   gate.New(cfg.GatePolicy, cfg.GateWindow),
		Logger: log,
	}, deps)

	log.Info("starting",
		zap.String("session_id", s.ID()),
		zap.String("api_url", cfg.APIURL),
		zap.String("ws_url", cfg.WSURL),
		zap.String("mode", string(cfg.Mode)),
		zap.String("gate_policy", string(cfg.GatePolicy)),
		zap.Int64("game_id", cfg.GameID),
		zap.Int64("user_id", cfg.UserID))

	g, gctx := errgroup.WithContext(ctx)
	sessionCtx, endSession := context.WithCancel(gctx)
	defer endSession()
	g.Go(func() error {
		defer endSession()
		return s.Run(sessionCtx)
	})

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           httpapi.SetupRoutes(s, moves, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("status server listening", zap.String("addr", cfg.StatusAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		// the status server lives exactly as long as the session
		g.Go(func() error {
			<-sessionCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
