// Package postcall implements the post-call orchestrator (spec.md §4.6): the
// nine-step pipeline that runs once, after a call's pipeline has closed, to
// assemble the transcript, classify the call, detect booking/urgency drift,
// and deliver signed job/call/(optional) alert payloads to the dispatcher's
// webhook receiver.
//
// Grounded on the teacher's internal/session/consolidator.go (a one-shot,
// idempotent "run once after the triggering event" task) for the
// orchestration shape, and internal/hotctx/assembler.go's errgroup-based
// concurrent fetch for running transcript assembly, classification, and
// drift analysis without serializing them.
package postcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/observe"
	"github.com/rbaset5/calllock-server-sub001/internal/postcall/pgstore"
	"github.com/rbaset5/calllock-server-sub001/internal/session"
	"github.com/rbaset5/calllock-server-sub001/internal/webhook"
)

// Delivery abstracts the webhook client so tests can substitute a fake
// without spinning up an HTTP server for every case.
type Delivery interface {
	Deliver(ctx context.Context, endpoint string, body []byte) error
}

// DurableStore abstracts internal/postcall/pgstore.Store so step 1's
// idempotency gate survives a process restart, not just the lifetime of the
// in-memory Session.Synced flag. Optional — an Orchestrator with no store
// configured relies on Session.Synced alone.
type DurableStore interface {
	Save(ctx context.Context, r pgstore.Record) error
	MarkSynced(ctx context.Context, callID string) error
	IsSynced(ctx context.Context, callID string) (bool, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDurableStore attaches a DurableStore the orchestrator consults after
// step 1's in-memory check and writes to before and after step 7's delivery.
func WithDurableStore(store DurableStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithMetrics attaches a Metrics instance used to record call duration and
// webhook delivery latency/outcome. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs the post-call pipeline for one finished call.
type Orchestrator struct {
	delivery   Delivery
	classifier *Classifier
	log        *slog.Logger
	store      DurableStore
	metrics    *observe.Metrics
}

// New constructs an Orchestrator.
func New(delivery Delivery, classifier *Classifier, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{delivery: delivery, classifier: classifier, log: log}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// deliver POSTs body to endpoint, recording delivery latency and outcome.
func (o *Orchestrator) deliver(ctx context.Context, endpoint string, body []byte) error {
	start := time.Now()
	err := o.delivery.Deliver(ctx, endpoint, body)
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.WebhookDeliveryDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
	o.metrics.RecordWebhookDelivery(ctx, endpoint, status)
	return err
}

// Run executes the nine-step post-call pipeline against a clone of the
// finished call's session (spec.md §4.6). It never returns an error for a
// partial delivery failure on the calls or alerts endpoint — only a failure
// delivering the job payload (the dispatcher's primary record of the call)
// is surfaced, since spec.md marks that endpoint's success as what step 8's
// idempotency marker gates on. end is the call's close time, passed in
// rather than read from time.Now() so a resumed or replayed run is
// deterministic.
func (o *Orchestrator) Run(ctx context.Context, s *session.Session, end time.Time) error {
	// Step 1: idempotency gate. The in-memory flag covers a single process's
	// lifetime; the durable store (if configured) also catches a call that
	// synced in a prior process before this one restarted.
	if s.Synced {
		o.log.Info("post-call already synced, skipping", "call_id", s.CallID)
		return nil
	}
	if o.store != nil {
		synced, err := o.store.IsSynced(ctx, s.CallID)
		if err != nil && !errors.Is(err, pgstore.ErrNotFound) {
			return fmt.Errorf("postcall: durable idempotency check for call %s: %w", s.CallID, err)
		}
		if synced {
			s.Synced = true
			o.log.Info("post-call already synced in durable store, skipping", "call_id", s.CallID)
			return nil
		}
	}

	// Steps 2-4: transcript assembly, classification, and drift analysis run
	// concurrently — none depends on another's result.
	var (
		plain  string
		jsonTx []byte
		dump   []string
		cls    Classification
		drift  Drift
	)
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		plain = plainTranscript(s.TranscriptLog)
		var err error
		jsonTx, err = jsonTranscript(s.TranscriptLog)
		if err != nil {
			return err
		}
		dump, err = dumpLines(s.TranscriptLog, s.StartTime)
		return err
	})
	eg.Go(func() error {
		cls = o.classifier.Classify(egCtx, plainTranscript(s.TranscriptLog))
		return nil
	})
	eg.Go(func() error {
		drift = analyzeDrift(s)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("postcall: assemble call %s: %w", s.CallID, err)
	}

	for _, line := range dump {
		o.log.Info(line, "call_id", s.CallID)
	}

	// Step 5-6: urgency mapping and payload assembly.
	jobPayload := buildJobPayload(s, end, plain, drift, cls)
	callPayload := buildCallPayload(s, end, plain, jsonTx, cls)

	jobBody, err := marshalPayload(jobPayload)
	if err != nil {
		return fmt.Errorf("postcall: call %s: %w", s.CallID, err)
	}
	callBody, err := marshalPayload(callPayload)
	if err != nil {
		return fmt.Errorf("postcall: call %s: %w", s.CallID, err)
	}

	if o.store != nil {
		rec := pgstore.Record{
			CallID: s.CallID, PhoneNumber: s.PhoneNumber,
			StartTime: s.StartTime, EndTime: end, EndState: string(s.State),
			JobPayload: jobBody, CallPayload: callBody,
		}
		if err := o.store.Save(ctx, rec); err != nil {
			o.log.Error("durable call record save failed, proceeding with delivery anyway",
				"call_id", s.CallID, "error", err)
		}
	}

	// Step 7: ordered delivery — jobs, then calls, then (conditionally) alerts.
	if err := o.deliver(ctx, webhook.EndpointJobs, jobBody); err != nil {
		return fmt.Errorf("postcall: deliver job payload for call %s: %w", s.CallID, err)
	}
	if err := o.deliver(ctx, webhook.EndpointCalls, callBody); err != nil {
		o.log.Error("call payload delivery failed, job payload already landed",
			"call_id", s.CallID, "error", err)
	}
	if s.State == fsm.StateSafetyExit {
		alertBody, err := marshalPayload(buildAlertPayload(s, end, plain))
		if err != nil {
			o.log.Error("alert payload marshal failed", "call_id", s.CallID, "error", err)
		} else if err := o.deliver(ctx, webhook.EndpointAlerts, alertBody); err != nil {
			o.log.Error("alert payload delivery failed", "call_id", s.CallID, "error", err)
		}
	}

	o.metrics.CallDuration.Record(ctx, end.Sub(s.StartTime).Seconds())

	// Step 8: idempotency marker.
	s.Synced = true
	if o.store != nil {
		if err := o.store.MarkSynced(ctx, s.CallID); err != nil {
			o.log.Error("durable idempotency marker failed", "call_id", s.CallID, "error", err)
		}
	}

	// Step 9: scorecard log line, plus the two data-quality warnings spec.md
	// §6.3 calls for.
	o.log.Info("event:call_scorecard",
		"call_id", s.CallID,
		"end_state", string(s.State),
		"duration_seconds", jobPayload.DurationSec,
		"turn_count", s.TurnCount,
		"booking_confirmed", s.BookingConfirmed,
		"callback_created", s.CallbackCreated,
		"urgency_tier", s.UrgencyTier,
		"quality_score", callPayload.QualityScore,
		"tags", jobPayload.Tags,
	)
	if !cls.Failed && len(jobPayload.Tags) == 0 {
		o.log.Warn("event:tags_empty", "call_id", s.CallID)
	}
	if drift.UrgencyMismatch {
		o.log.Warn("event:urgency_drift", "call_id", s.CallID, "transition", drift.UrgencyTransition)
	}
	if s.CallbackType != "" && !s.CallbackCreated {
		o.log.Warn("event:callback_gap", "call_id", s.CallID)
	}

	return nil
}
