package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/astromechza/copypad/pkg/client"
	"github.com/astromechza/copypad/pkg/session"
)

type config struct {
	Server      string        `long:"server" env:"PAD_SERVER" default:"http://localhost:8000" description:"base url of the copypad server"`
	Path        string        `long:"path" env:"PAD_PATH" default:"default" description:"document path to open"`
	QuietPeriod time.Duration `long:"quiet-period" default:"3s" description:"save once typing has paused for this long"`
	WarmUp      time.Duration `long:"warm-up" default:"3s" description:"ignore edits for this long after opening"`
	Attach      string        `long:"attach" description:"upload this file as the attachment of the path and exit"`
	Detach      bool          `long:"detach" description:"remove the attachment of the path and exit"`
	Verbose     bool          `short:"v" long:"verbose" description:"enable debug logging"`
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

func mainInner() error {
	var cfg config
	if _, err := flags.NewParser(&cfg, flags.Default).ParseArgs(os.Args[1:]); err != nil {
		return err
	}
	if cfg.Verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	c, err := client.New(cfg.Server, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case cfg.Attach != "" && cfg.Detach:
		return fmt.Errorf("--attach and --detach are mutually exclusive")
	case cfg.Attach != "":
		raw, err := os.ReadFile(cfg.Attach)
		if err != nil {
			return fmt.Errorf("failed to read attachment: %w", err)
		}
		if err := c.SaveFile(ctx, cfg.Path, []client.File{{Name: filepath.Base(cfg.Attach), Data: raw}}); err != nil {
			return err
		}
		slog.Info("attached", "path", cfg.Path, "file", filepath.Base(cfg.Attach))
		return nil
	case cfg.Detach:
		if err := c.DeleteFile(ctx, cfg.Path); err != nil {
			return err
		}
		slog.Info("detached", "path", cfg.Path)
		return nil
	}

	pad, err := c.Open(ctx, cfg.Path, client.Options{
		QuietPeriod: cfg.QuietPeriod,
		WarmUp:      cfg.WarmUp,
		OnRemote: func(text string) {
			fmt.Println(text)
		},
	})
	if err != nil {
		return err
	}
	if pad.Attachment != nil {
		slog.Info("document has an attachment", "name", pad.Attachment.Name, "bytes", len(pad.Attachment.Data))
	}
	slog.Info("opened", "path", cfg.Path, "server", cfg.Server)

	// Every line read from stdin replaces the whole text.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 64*1024), 8<<20)
		for sc.Scan() {
			lines <- strings.ReplaceAll(sc.Text(), `\n`, "\n")
		}
	}()

	var exitErr error
loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := pad.Edit(line); err != nil {
				if errors.Is(err, session.ErrWarmingUp) {
					slog.Warn("still warming up, edit dropped")
					continue
				}
				exitErr = err
				break loop
			}
		case <-pad.Done():
			exitErr = fmt.Errorf("chat connection ended: %w", pad.Err())
			break loop
		case <-ctx.Done():
			slog.Info("Signal caught")
			break loop
		}
	}

	if err := pad.Close(); err != nil {
		slog.Debug("close failed", "err", err)
	}
	c.Wait()
	return exitErr
}
