// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes a protocol pipeline as an http.Handler.
//
// Every request that addresses an upload holds that upload's lock for the
// whole pipeline run. Errors are rendered as plain text tus responses.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	reqctx "github.com/LeeDigitalWorks/zaptus/pkg/context"
	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/lock"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/protocol"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of tus requests by effective method and status code",
	}, []string{"method", "status_code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zaptus",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of tus requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status_code"})

	rateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total number of rate limited requests",
	})

	activeLimiters = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zaptus",
		Subsystem: "ratelimit",
		Name:      "active_limiters",
		Help:      "Number of per client rate limiters",
	})
)

func init() {
	debug.Registry().MustRegister(
		requestsTotal,
		requestDuration,
		rateLimitRejections,
		activeLimiters,
	)
}

type ownerKeyCtx struct{}

// WithOwnerKey scopes every storage lookup of the request to key.
func WithOwnerKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ownerKeyCtx{}, key)
}

func OwnerKey(ctx context.Context) string {
	key, _ := ctx.Value(ownerKeyCtx{}).(string)
	return key
}

type Config struct {
	Pipeline *protocol.Pipeline
	Store    storage.Storage
	// Locker is optional; without one requests are not serialised per upload.
	Locker lock.Locker
	// DecodeChunked makes the server parse chunked framing itself, for
	// listeners that hand over the raw body.
	DecodeChunked bool

	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	pipeline      *protocol.Pipeline
	store         storage.Storage
	locker        lock.Locker
	decodeChunked bool
	limiter       *ipLimiter
}

func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("server: pipeline is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	return &Server{
		pipeline:      cfg.Pipeline,
		store:         cfg.Store,
		locker:        cfg.Locker,
		decodeChunked: cfg.DecodeChunked,
		limiter:       newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	wrappedWriter := &wrappedResponseRecorder{ResponseWriter: w}
	resp := protocol.NewResponse(wrappedWriter)

	method := protocol.EffectiveMethod(r, s.pipeline.Methods())
	req := protocol.NewRequest(r, method, s.decodeChunked)
	defer req.Close()

	reqCtx, requestID := reqctx.FromRequest(r)
	resp.Header().Set(reqctx.HeaderRequestID, requestID)

	ctx := logger.WithFields(reqCtx,
		"request_id", requestID,
		"method", r.Method,
		"uri", r.URL.Path,
		"tus_method", method,
	)

	defer func() {
		status := wrappedWriter.statusCode
		// client went away; not a server failure
		if status == http.StatusInternalServerError && errors.Is(r.Context().Err(), context.Canceled) {
			status = 0
		}
		label := method
		if label == "" {
			label = "unsupported"
		}
		code := strconv.Itoa(status)
		requestsTotal.WithLabelValues(label, code).Inc()
		requestDuration.WithLabelValues(label, code).Observe(time.Since(start).Seconds())
	}()

	if err := s.serve(ctx, req, resp); err != nil {
		s.handleError(ctx, r, resp, err)
		return
	}
	resp.Commit()
}

func (s *Server) serve(ctx context.Context, req *protocol.Request, resp *protocol.Response) error {
	if s.limiter != nil && !s.limiter.allow(clientIP(req.HTTPRequest())) {
		rateLimitRejections.Inc()
		return tuserr.ErrRateLimited
	}

	if s.locker != nil && req.Method() != "" {
		l, err := s.locker.LockByURI(ctx, req.URI())
		if err != nil {
			return fmt.Errorf("lock %s: %w", req.URI(), err)
		}
		if l != nil {
			defer func() {
				if err := l.Release(); err != nil {
					logger.Ctx(ctx).Warn().Err(err).Str("upload_id", l.ID().String()).Msg("failed to release upload lock")
				}
			}()
		}
	}

	return s.pipeline.Run(ctx, req, resp, s.store, OwnerKey(ctx))
}

func (s *Server) handleError(ctx context.Context, r *http.Request, resp *protocol.Response, err error) {
	log := logger.Ctx(ctx)

	if resp.Committed() {
		// headers are gone already, all that is left is to log
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("request failed after response was committed")
		}
		return
	}

	status := writeErrorResponse(resp, r.Method, err, s.pipeline.Methods())
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled):
		log.Debug().Err(err).Msg("request cancelled")
	case status >= http.StatusInternalServerError:
		log.Error().Err(err).Int("status", status).Msg("request failed")
		sentry.CaptureException(err)
	default:
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
}
