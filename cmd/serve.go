// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/expiration"
	"github.com/LeeDigitalWorks/zaptus/pkg/lock"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/protocol"
	"github.com/LeeDigitalWorks/zaptus/pkg/server"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ServeOpts holds all configuration for the upload server
type ServeOpts struct {
	BindAddr  string // interface to listen on, host:port
	HTTPPort  int
	DebugPort int

	// ConnTimeout is the base read and write deadline of client connections.
	// It grows with the bytes transferred.
	ConnTimeout time.Duration

	Storage    StorageOpts
	Extensions []string

	DecodeChunked bool

	ExpirationSweepInterval time.Duration
	StaleLockSweepInterval  time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tus upload server",
	Long: `Start a zaptus server that accepts tus 1.0.0 uploads over HTTP.
Metrics, pprof and health checks are served on the debug port.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()

	f.String("bind_addr", "0.0.0.0:8080", "Address to bind (host:port). The host is shared with the debug server.")
	f.Int("http_port", 8080, "tus HTTP port")
	f.Int("debug_port", 8081, "Debug/metrics HTTP port")
	f.Duration("conn_timeout", 30*time.Second, "Base read/write deadline of client connections (0 = none)")

	addStorageFlags(f)

	f.StringSlice("extensions", protocol.DefaultExtensions, "Ordered list of enabled tus extensions")
	f.Bool("decode_chunked", false, "Decode chunked request framing inside the server")

	f.Duration("expiration_sweep_interval", expiration.DefaultInterval, "How often expired uploads are removed (0 = disabled)")
	f.Duration("stale_lock_sweep_interval", lock.DefaultSweepInterval, "How often stale lock files are removed (0 = disabled)")

	f.Float64("rate_limit_rps", 0, "Requests per second allowed per client IP (0 = unlimited)")
	f.Int("rate_limit_burst", 0, "Burst size of the per client rate limit (0 = same as rps)")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) {
	opts, err := loadServeOpts(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	debug.SetNotReady()

	c, err := buildComponents(opts.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise storage")
	}
	defer c.Close()

	exts, err := protocol.ExtensionsByName(opts.Extensions, c.merger)
	if err != nil {
		logger.Fatal().Err(err).Strs("extensions", opts.Extensions).Msg("invalid extension list")
	}
	pipeline := protocol.NewPipeline(exts...)

	srv, err := server.New(server.Config{
		Pipeline:       pipeline,
		Store:          c.store,
		Locker:         c.locker,
		DecodeChunked:  opts.DecodeChunked,
		RateLimitRPS:   opts.RateLimitRPS,
		RateLimitBurst: opts.RateLimitBurst,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	debug.AddReadyCheck("storage", c.store.Ping)

	maxSize := "unbounded"
	if opts.Storage.MaxUploadSize > 0 {
		maxSize = humanize.IBytes(uint64(opts.Storage.MaxUploadSize))
	}
	logger.Info().
		Str("upload_uri", opts.Storage.UploadURI).
		Str("backend", string(opts.Storage.Backend.Type)).
		Str("index", opts.Storage.Index).
		Str("locker", opts.Storage.Locker).
		Str("max_upload_size", maxSize).
		Dur("expiration_period", opts.Storage.ExpirationPeriod).
		Strs("extensions", pipeline.ExtensionNames()).
		Strs("methods", pipeline.Methods()).
		Msg("Upload server configuration")

	lockSweeper := lock.NewSweeper(c.locker, opts.StaleLockSweepInterval)
	lockSweeper.Start()
	expirationSweeper := expiration.NewSweeper(expiration.Config{
		Store:    c.store,
		Locker:   c.locker,
		Interval: opts.ExpirationSweepInterval,
	})
	expirationSweeper.Start()

	bindHost, _, err := net.SplitHostPort(opts.BindAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("bind_addr", opts.BindAddr).Msg("invalid bind_addr format, expected host:port")
	}

	httpServer := startHTTPServer(srv, bindHost, opts.HTTPPort, opts.ConnTimeout)
	debugServer := startHTTPServer(debug.GetMux(), bindHost, opts.DebugPort, 0)

	debug.SetReady()

	waitForShutdown()

	debug.SetNotReady()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("upload server did not shut down cleanly")
	}
	debugServer.Shutdown(ctx)
	expirationSweeper.Stop()
	lockSweeper.Stop()
}

func loadServeOpts(cmd *cobra.Command) (ServeOpts, error) {
	f := NewFlagLoader(cmd)

	storageOpts, err := loadStorageOpts(f)
	if err != nil {
		return ServeOpts{}, err
	}

	var exts []string
	for _, name := range f.StringSlice("extensions") {
		if name = strings.TrimSpace(name); name != "" {
			exts = append(exts, name)
		}
	}

	opts := ServeOpts{
		BindAddr:                f.String("bind_addr"),
		HTTPPort:                f.Int("http_port"),
		DebugPort:               f.Int("debug_port"),
		ConnTimeout:             f.Duration("conn_timeout"),
		Storage:                 storageOpts,
		Extensions:              exts,
		DecodeChunked:           f.Bool("decode_chunked"),
		ExpirationSweepInterval: f.Duration("expiration_sweep_interval"),
		StaleLockSweepInterval:  f.Duration("stale_lock_sweep_interval"),
		RateLimitRPS:            f.Float64("rate_limit_rps"),
		RateLimitBurst:          f.Int("rate_limit_burst"),
	}
	if opts.RateLimitRPS < 0 {
		return ServeOpts{}, fmt.Errorf("rate_limit_rps must not be negative, got %v", opts.RateLimitRPS)
	}
	return opts, nil
}

func startHTTPServer(handler http.Handler, ip string, port int, timeout time.Duration) *http.Server {
	listener, err := utils.NewListener(utils.JoinHostPort(ip, port), timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{Handler: handler}
	go func() {
		logger.Info().Str("http_addr", utils.JoinHostPort(ip, port)).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	<-stopChan
}
