// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the tus 1.0.0 request pipeline: validators
// that reject requests before anything is mutated and handlers that carry
// out the request, grouped into extensions.
package protocol

import (
	"context"
	"slices"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zaptus",
		Subsystem: "pipeline",
		Name:      "step_duration_seconds",
		Help:      "Duration of validator and handler runs in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})

	metricStepErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "pipeline",
		Name:      "step_errors_total",
		Help:      "Number of errors returned by validators and handlers",
	}, []string{"step"})

	metricContextCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "pipeline",
		Name:      "context_cancelled_total",
		Help:      "Number of times the request context was done after a step",
	}, []string{"step"})
)

func init() {
	debug.Registry().MustRegister(
		metricStepDuration,
		metricStepErrors,
		metricContextCancelled,
	)
}

// Outcome tells the pipeline whether to run the remaining handlers.
type Outcome interface {
	IsEnd() bool
}

type Next struct{}

func (Next) IsEnd() bool {
	return false
}

type End struct{}

func (End) IsEnd() bool {
	return true
}

// Validator checks a request before any handler runs. Supports must only
// depend on the method.
type Validator interface {
	Supports(method string) bool
	Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error
	Type() string
}

// Handler carries out part of a request. Returning End skips the handlers
// registered after it.
type Handler interface {
	Supports(method string) bool
	Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error)
	Type() string
}

// Extension is a named group of validators and handlers.
type Extension struct {
	Name string
	// Methods are the HTTP methods the extension needs the server to accept.
	Methods    []string
	Validators []Validator
	Handlers   []Handler
	// Prepare runs before validation, while the body is still unread.
	Prepare func(req *Request)
}

// methodsAware is implemented by validators that need the final method set.
type methodsAware interface {
	setSupportedMethods(methods []string)
}

// Pipeline dispatches requests through the validators and handlers of an
// ordered list of extensions. The core extension always runs first.
type Pipeline struct {
	extensions []Extension
	validators []Validator
	handlers   []Handler
	prepares   []func(*Request)
	methods    []string
}

// NewPipeline builds a pipeline from exts in the given order. Core is added
// when missing and moved to the front otherwise; later duplicates of an
// extension name are dropped.
func NewPipeline(exts ...Extension) *Pipeline {
	ordered := make([]Extension, 0, len(exts)+1)
	seen := make(map[string]bool)

	coreIdx := slices.IndexFunc(exts, func(e Extension) bool { return e.Name == ExtensionCore })
	if coreIdx >= 0 {
		ordered = append(ordered, exts[coreIdx])
	} else {
		ordered = append(ordered, Core())
	}
	seen[ExtensionCore] = true

	for _, ext := range exts {
		if seen[ext.Name] {
			continue
		}
		seen[ext.Name] = true
		ordered = append(ordered, ext)
	}

	p := &Pipeline{extensions: ordered}
	for _, ext := range ordered {
		p.validators = append(p.validators, ext.Validators...)
		p.handlers = append(p.handlers, ext.Handlers...)
		if ext.Prepare != nil {
			p.prepares = append(p.prepares, ext.Prepare)
		}
	}
	for _, m := range allMethods {
		for _, ext := range ordered {
			if slices.Contains(ext.Methods, m) {
				p.methods = append(p.methods, m)
				break
			}
		}
	}
	for _, v := range p.validators {
		if ma, ok := v.(methodsAware); ok {
			ma.setSupportedMethods(p.methods)
		}
	}
	return p
}

// Methods lists the HTTP methods supported by the configured extensions.
func (p *Pipeline) Methods() []string {
	return slices.Clone(p.methods)
}

// ExtensionNames lists the configured extensions in dispatch order.
func (p *Pipeline) ExtensionNames() []string {
	names := make([]string, len(p.extensions))
	for i, ext := range p.extensions {
		names[i] = ext.Name
	}
	return names
}

// Run prepares, validates and processes req. The first failing step aborts
// the request.
func (p *Pipeline) Run(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) error {
	for _, prepare := range p.prepares {
		prepare(req)
	}
	if err := p.Validate(ctx, req, store, ownerKey); err != nil {
		return err
	}
	return p.Process(ctx, req, resp, store, ownerKey)
}

// Validate runs every validator supporting the request method.
func (p *Pipeline) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	method := req.Method()
	for _, v := range p.validators {
		if !v.Supports(method) {
			continue
		}
		t := time.Now()
		err := v.Validate(ctx, req, store, ownerKey)
		metricStepDuration.WithLabelValues(v.Type()).Observe(time.Since(t).Seconds())

		if ctx.Err() != nil {
			metricContextCancelled.WithLabelValues(v.Type()).Inc()
			return ctx.Err()
		}
		if err != nil {
			metricStepErrors.WithLabelValues(v.Type()).Inc()
			return err
		}
	}
	return nil
}

// Process runs every handler supporting the request method until one ends
// the chain.
func (p *Pipeline) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) error {
	method := req.Method()
	for _, h := range p.handlers {
		if !h.Supports(method) {
			continue
		}
		t := time.Now()
		out, err := h.Process(ctx, req, resp, store, ownerKey)
		metricStepDuration.WithLabelValues(h.Type()).Observe(time.Since(t).Seconds())

		if ctx.Err() != nil {
			metricContextCancelled.WithLabelValues(h.Type()).Inc()
			return ctx.Err()
		}
		if err != nil {
			metricStepErrors.WithLabelValues(h.Type()).Inc()
			return err
		}
		if out != nil && out.IsEnd() {
			return nil
		}
	}
	return nil
}
