package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/astromechza/copypad/pkg/metrics"
	"github.com/astromechza/copypad/pkg/relay"
	"github.com/astromechza/copypad/pkg/room"
	"github.com/astromechza/copypad/pkg/server"
	"github.com/astromechza/copypad/pkg/store"
)

type config struct {
	Addr string `long:"addr" env:"PAD_ADDR" default:"localhost:8000" description:"the address to listen on"`

	Log struct {
		Level  string `long:"level" env:"LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
		Format string `long:"format" env:"FORMAT" default:"text" choice:"text" choice:"json" description:"log format"`
	} `group:"Logging" namespace:"log" env-namespace:"PAD_LOG"`

	Store struct {
		Driver        string        `long:"driver" env:"DRIVER" default:"sqlite" choice:"sqlite" choice:"postgres" choice:"mongo" choice:"memory" description:"document store backend"`
		DSN           string        `long:"dsn" env:"DSN" default:"copypad.sqlite3" description:"sqlite file, postgres connection string or mongodb uri"`
		Expiry        time.Duration `long:"expiry" env:"EXPIRY" default:"0s" description:"delete documents not updated for this long, 0 keeps them forever"`
		SweepInterval time.Duration `long:"sweep-interval" env:"SWEEP_INTERVAL" default:"1m" description:"how often to look for expired documents"`
	} `group:"Store" namespace:"store" env-namespace:"PAD_STORE"`

	Redis struct {
		Addr          string `long:"addr" env:"ADDR" description:"relay room edits between processes through this redis, empty disables"`
		ChannelPrefix string `long:"channel-prefix" env:"CHANNEL_PREFIX" default:"copypad:" description:"prefix of per-path pub/sub channels"`
	} `group:"Redis" namespace:"redis" env-namespace:"PAD_REDIS"`

	Attachment struct {
		MaxBytes int64 `long:"max-bytes" env:"MAX_BYTES" default:"1048576" description:"largest accepted attachment"`
	} `group:"Attachment" namespace:"attachment" env-namespace:"PAD_ATTACHMENT"`

	Chat struct {
		WriteTimeout time.Duration `long:"write-timeout" env:"WRITE_TIMEOUT" default:"10s" description:"websocket write deadline"`
		PingInterval time.Duration `long:"ping-interval" env:"PING_INTERVAL" default:"30s" description:"websocket keepalive ping interval"`
	} `group:"Chat" namespace:"chat" env-namespace:"PAD_CHAT"`
}

func main() {
	if err := mainInner(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func mainInner() error {
	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "."
	parser.EnvNamespaceDelimiter = "_"
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		return err
	}
	if err := setupLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, store.Options{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN, Expiry: cfg.Store.Expiry})
	if err != nil {
		return err
	}
	defer st.Close()

	var opts []room.Option
	if cfg.Redis.Addr != "" {
		rl, err := relay.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.ChannelPrefix)
		if err != nil {
			return err
		}
		defer rl.Close()
		opts = append(opts, room.WithRelay(rl))
	}
	registry := room.NewRegistry(st, opts...)
	defer registry.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.Collectors()...)
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	router := server.New(st, registry, server.Config{
		MaxAttachmentBytes: cfg.Attachment.MaxBytes,
		WriteTimeout:       cfg.Chat.WriteTimeout,
		PingInterval:       cfg.Chat.PingInterval,
	}).Router()
	router.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: cfg.Addr, Handler: router}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("Server running", "addr", cfg.Addr, "store", cfg.Store.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return store.Sweep(ctx, st, cfg.Store.Expiry, cfg.Store.SweepInterval)
	})
	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked chat connections are not tracked by Shutdown; Close drops them.
		_ = httpServer.Shutdown(shutdownCtx)
		return httpServer.Close()
	})
	return eg.Wait()
}
