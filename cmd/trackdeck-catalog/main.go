// ABOUTME: Entry point for the development catalog server
// ABOUTME: Serves a directory as a catalog API and advertises it over mDNS
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/trackdeck/internal/discovery"
	"github.com/Resonate-Protocol/trackdeck/internal/library"
	"github.com/Resonate-Protocol/trackdeck/internal/logger"
	"github.com/Resonate-Protocol/trackdeck/internal/version"
	"github.com/Resonate-Protocol/trackdeck/pkg/catalog"
)

var CLI struct {
	Dir      string `arg:"" help:"Directory of audio files" type:"existingdir"`
	Port     int    `help:"HTTP port" default:"8000"`
	Name     string `help:"Advertised name (default: hostname-trackdeck-catalog)"`
	NoMDNS   bool   `name:"no-mdns" help:"Disable mDNS advertisement"`
	LogFile  string `name:"log-file" help:"Log file path" default:"trackdeck-catalog.log"`
	LogLevel string `name:"log-level" help:"Log level" default:"info"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("trackdeck-catalog"),
		kong.Description("Serve a directory of audio files as a trackdeck catalog."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(run())
}

func run() error {
	log, closeLog, err := logger.New(logger.Config{Level: CLI.LogLevel, File: CLI.LogFile, Console: os.Stdout})
	if err != nil {
		return err
	}
	defer closeLog()

	name := CLI.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		name = fmt.Sprintf("%s-trackdeck-catalog", hostname)
	}

	lib := library.New(library.Config{Dir: CLI.Dir, Logger: log.Named("library")})
	if err := lib.Scan(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", CLI.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{Handler: lib.Handler(), ReadHeaderTimeout: 10 * time.Second}

	if !CLI.NoMDNS {
		mgr := discovery.NewManager(discovery.Config{
			ServiceName: name,
			Port:        ln.Addr().(*net.TCPAddr).Port,
			Text:        []string{"path=" + catalog.ListPath, "version=" + version.Version},
			Logger:      log.Named("discovery"),
		})
		if err := mgr.Advertise(); err != nil {
			log.Warn("mDNS advertisement failed", zap.Error(err))
		}
		defer mgr.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := lib.Watch(ctx, 500*time.Millisecond, nil); err != nil {
			log.Warn("library watch stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("catalog server listening",
		zap.String("name", name),
		zap.String("addr", ln.Addr().String()),
		zap.String("dir", CLI.Dir))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
