// Package pipeline connects the capture reader, the joiner, the decoder and
// the event writer into one processing session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/decoder"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/joiner"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/registry"
)

const tracerName = "github.com/OpenTraceLab/OpenTraceNAND/pkg/pipeline"

// Options configures a Session.
type Options struct {
	Joiner           joiner.Config
	RegistryCapacity int
	Logger           *zap.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Joiner:           joiner.DefaultConfig(),
		RegistryCapacity: registry.DefaultCapacity,
	}
}

// Stats summarizes one run.
type Stats struct {
	Records   int64
	Truncated bool
	Events    int64
	Joiner    joiner.Stats
	Decoder   decoder.Stats
}

// Session owns every stage of one run. A Session may be reused; each run
// starts from fresh state.
type Session struct {
	opts  Options
	log   *zap.Logger
	stats Stats
}

// NewSession validates opts and returns a session.
func NewSession(opts Options) (*Session, error) {
	if err := opts.Joiner.Validate(); err != nil {
		return nil, err
	}
	if opts.RegistryCapacity <= 0 {
		return nil, fmt.Errorf("pipeline: registry capacity must be positive, got %d", opts.RegistryCapacity)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{opts: opts, log: log}, nil
}

// Stats returns the statistics of the last run.
func (s *Session) Stats() Stats { return s.stats }

func (s *Session) controller(span trace.Span, r *capture.Reader) *joiner.Controller {
	ctrl := joiner.New(r, s.opts.Joiner, s.log.Named("joiner"))
	ctrl.OnTransition = func(from, to joiner.State) {
		switch to {
		case joiner.StateOverflowed, joiner.StateJoining:
			span.AddEvent(to.String(), trace.WithAttributes(
				attribute.String("otn.from", from.String()),
				attribute.Int64("otn.records", r.Count()),
			))
		}
	}
	return ctrl
}

// Run reads a raw capture from in and writes decoded events to out.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "otn.group")
	defer span.End()

	r := capture.NewReader(in, s.log.Named("capture"))
	ctrl := s.controller(span, r)
	dec := decoder.New(ctrl, registry.New(s.opts.RegistryCapacity), s.log.Named("decoder"))
	w := event.NewWriter(out)

	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(span, fmt.Errorf("pipeline: decode: %w", err))
		}
		if err := w.Write(ev); err != nil {
			return fail(span, fmt.Errorf("pipeline: write event: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(span, fmt.Errorf("pipeline: flush events: %w", err))
	}

	s.stats = Stats{
		Records:   r.Count(),
		Truncated: r.Truncated(),
		Events:    w.Count(),
		Joiner:    ctrl.Stats(),
		Decoder:   dec.Stats(),
	}
	s.annotate(span)
	s.log.Info("capture decoded",
		zap.Int64("records", s.stats.Records),
		zap.Int64("events", s.stats.Events),
		zap.Int64("overflows", s.stats.Joiner.Overflows),
		zap.Int64("joins", s.stats.Joiner.Joins),
		zap.Int64("fallbacks", s.stats.Decoder.Fallbacks))
	return nil
}

// Join reads a raw capture from in and writes the corrected, de-duplicated
// record stream to out without decoding it.
func (s *Session) Join(ctx context.Context, in io.Reader, out io.Writer) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "otn.join")
	defer span.End()

	r := capture.NewReader(in, s.log.Named("capture"))
	ctrl := s.controller(span, r)
	w := capture.NewWriter(out)

	for {
		rec, err := ctrl.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(span, err)
		}
		if err := w.Write(rec); err != nil {
			return fail(span, fmt.Errorf("pipeline: write record: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(span, fmt.Errorf("pipeline: flush records: %w", err))
	}

	s.stats = Stats{
		Records:   r.Count(),
		Truncated: r.Truncated(),
		Joiner:    ctrl.Stats(),
	}
	s.annotate(span)
	s.log.Info("capture joined",
		zap.Int64("records", s.stats.Records),
		zap.Int64("written", w.Count()),
		zap.Int64("duplicates", s.stats.Joiner.Duplicates))
	return nil
}

func (s *Session) annotate(span trace.Span) {
	span.SetAttributes(
		attribute.Int64("otn.records", s.stats.Records),
		attribute.Int64("otn.events", s.stats.Events),
		attribute.Int64("otn.overflows", s.stats.Joiner.Overflows),
		attribute.Int64("otn.joins", s.stats.Joiner.Joins),
		attribute.Int64("otn.join_failures", s.stats.Joiner.JoinFailures),
		attribute.Bool("otn.truncated", s.stats.Truncated),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
