package postcall

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/postcall/pgstore"
	"github.com/rbaset5/calllock-server-sub001/internal/session"
	"github.com/rbaset5/calllock-server-sub001/internal/webhook"
	"github.com/rbaset5/calllock-server-sub001/pkg/provider/llm"
	"github.com/rbaset5/calllock-server-sub001/pkg/provider/llm/mock"
)

type fakeStore struct {
	mu      sync.Mutex
	synced  map[string]bool
	saved   map[string]pgstore.Record
	markErr error
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{synced: map[string]bool{}, saved: map[string]pgstore.Record{}}
}

func (f *fakeStore) Save(ctx context.Context, r pgstore.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[r.CallID] = r
	return f.saveErr
}

func (f *fakeStore) MarkSynced(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced[callID] = true
	return f.markErr
}

func (f *fakeStore) IsSynced(ctx context.Context, callID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	synced, ok := f.synced[callID]
	if !ok {
		return false, pgstore.ErrNotFound
	}
	return synced, nil
}

type fakeDelivery struct {
	mu     sync.Mutex
	calls  []string
	bodies map[string][]byte
	failOn map[string]bool
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{bodies: map[string][]byte{}, failOn: map[string]bool{}}
}

func (f *fakeDelivery) Deliver(ctx context.Context, endpoint string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)
	f.bodies[endpoint] = body
	if f.failOn[endpoint] {
		return errTest
	}
	return nil
}

func testSessionForOrchestrator() *session.Session {
	s := session.New("c1", "+15555550100", time.Now().Add(-2*time.Minute))
	s.State = fsm.StateDone
	s.CustomerName = "Jo"
	s.AppendTranscript(session.RoleAgent, "Thanks for calling.", s.StartTime, "", nil)
	s.AppendTranscript(session.RoleUser, "My heater is broken.", s.StartTime.Add(time.Second), "", nil)
	return s
}

func TestOrchestrator_Run_DeliversJobThenCallsInOrder(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	delivery := newFakeDelivery()
	classifier := NewClassifier(&mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"ai_summary":"x","card_headline":"x","card_summary":"x","call_type":"booking","call_subtype":"hvac_no_heat","sentiment_score":0,"tags":{"hvac":true},"priority_color":"yellow","revenue_tier":"medium"}`,
	}})
	o := New(delivery, classifier, nil)

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delivery.calls) < 2 || delivery.calls[0] != webhook.EndpointJobs || delivery.calls[1] != webhook.EndpointCalls {
		t.Fatalf("expected jobs then calls delivery order, got %v", delivery.calls)
	}
	if !s.Synced {
		t.Errorf("expected Synced to be set after a successful run")
	}

	var jobBody map[string]any
	if err := json.Unmarshal(delivery.bodies[webhook.EndpointJobs], &jobBody); err != nil {
		t.Fatalf("unmarshal job body: %v", err)
	}
	if jobBody["call_id"] != "c1" {
		t.Errorf("job payload call_id: got %v", jobBody["call_id"])
	}
}

func TestOrchestrator_Run_SkipsAlreadySyncedCall(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	s.Synced = true
	delivery := newFakeDelivery()
	o := New(delivery, NewClassifier(&mock.Provider{}), nil)

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delivery.calls) != 0 {
		t.Errorf("expected no delivery calls for an already-synced session, got %v", delivery.calls)
	}
}

func TestOrchestrator_Run_SendsAlertOnlyOnSafetyExit(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	s.State = fsm.StateSafetyExit
	delivery := newFakeDelivery()
	o := New(delivery, NewClassifier(&mock.Provider{}), nil)

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, c := range delivery.calls {
		if c == webhook.EndpointAlerts {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an alert delivery on safety_exit, calls were %v", delivery.calls)
	}
}

func TestOrchestrator_Run_NoAlertOnNormalEnd(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	delivery := newFakeDelivery()
	o := New(delivery, NewClassifier(&mock.Provider{}), nil)

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range delivery.calls {
		if c == webhook.EndpointAlerts {
			t.Errorf("did not expect an alert delivery on a normal call end")
		}
	}
}

func TestOrchestrator_Run_WarnsOnCallbackGap(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	s.State = fsm.StateCallback
	s.CallbackType = fsm.CallbackReasonRequested
	s.CallbackCreated = false // create_callback was attempted and failed
	delivery := newFakeDelivery()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	o := New(delivery, NewClassifier(&mock.Provider{}), log)

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(buf.String(), "event:callback_gap") {
		t.Errorf("expected event:callback_gap warning for a promised-but-uncreated callback, log was: %s", buf.String())
	}
}

func TestOrchestrator_Run_NoCallbackGapWarningOnSuccess(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	s.State = fsm.StateCallback
	s.CallbackType = fsm.CallbackReasonRequested
	s.CallbackCreated = true
	delivery := newFakeDelivery()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	o := New(delivery, NewClassifier(&mock.Provider{}), log)

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(buf.String(), "event:callback_gap") {
		t.Errorf("did not expect event:callback_gap warning when the callback was created, log was: %s", buf.String())
	}
}

func TestOrchestrator_Run_NoCallbackGapWarningOnEscalationWithoutCallbackType(t *testing.T) {
	t.Parallel()
	// A turn-limit escalation force-transitions straight to callback
	// without ever setting CallbackType; if create_callback then succeeds
	// this must not fire the gap warning, which exists only for a promised
	// (CallbackType set) callback that was never created.
	s := testSessionForOrchestrator()
	s.State = fsm.StateCallback
	s.CallbackCreated = true
	delivery := newFakeDelivery()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	o := New(delivery, NewClassifier(&mock.Provider{}), log)

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(buf.String(), "event:callback_gap") {
		t.Errorf("did not expect event:callback_gap warning without a promised CallbackType, log was: %s", buf.String())
	}
}

func TestOrchestrator_Run_JobDeliveryFailureIsSurfacedAndLeavesUnsynced(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	delivery := newFakeDelivery()
	delivery.failOn[webhook.EndpointJobs] = true
	o := New(delivery, NewClassifier(&mock.Provider{}), nil)

	if err := o.Run(context.Background(), s, time.Now()); err == nil {
		t.Fatalf("expected an error when the job payload fails to deliver")
	}
	if s.Synced {
		t.Errorf("expected Synced to remain false after a failed job delivery")
	}
}

func TestOrchestrator_Run_CallDeliveryFailureDoesNotBlockSync(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	delivery := newFakeDelivery()
	delivery.failOn[webhook.EndpointCalls] = true
	o := New(delivery, NewClassifier(&mock.Provider{}), nil)

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("a failed call-payload delivery should not fail Run: %v", err)
	}
	if !s.Synced {
		t.Errorf("expected Synced to still be set since the job payload landed")
	}
}

func TestOrchestrator_Run_DurableStoreSavesAndMarksSynced(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	delivery := newFakeDelivery()
	store := newFakeStore()
	o := New(delivery, NewClassifier(&mock.Provider{}), nil, WithDurableStore(store))

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := store.saved[s.CallID]; !ok {
		t.Errorf("expected a durable record to be saved for %s", s.CallID)
	}
	if !store.synced[s.CallID] {
		t.Errorf("expected the durable store to be marked synced")
	}
}

func TestOrchestrator_Run_DurableStoreAlreadySyncedSkipsDelivery(t *testing.T) {
	t.Parallel()
	s := testSessionForOrchestrator()
	delivery := newFakeDelivery()
	store := newFakeStore()
	store.synced[s.CallID] = true
	o := New(delivery, NewClassifier(&mock.Provider{}), nil, WithDurableStore(store))

	if err := o.Run(context.Background(), s, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delivery.calls) != 0 {
		t.Errorf("expected no delivery calls when the durable store already reports synced, got %v", delivery.calls)
	}
	if !s.Synced {
		t.Errorf("expected the in-memory flag to be set to match the durable store")
	}
}
