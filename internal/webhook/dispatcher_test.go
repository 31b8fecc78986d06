package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/outreachd/campaign-engine/internal/model"
)

type fakeSubsRepo struct {
	subs []model.WebhookSubscription
}

func (f *fakeSubsRepo) Insert(context.Context, model.WebhookSubscription) (int64, error) {
	return 0, nil
}
func (f *fakeSubsRepo) ListByWorkspace(_ context.Context, workspaceID int64) ([]model.WebhookSubscription, error) {
	var out []model.WebhookSubscription
	for _, s := range f.subs {
		if s.WorkspaceID == workspaceID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeSubsRepo) SetActive(context.Context, int64, int64, bool) (bool, error) {
	return true, nil
}

type fakeDeliveriesRepo struct {
	mu      sync.Mutex
	pending []model.DeliveryAttempt
	results map[string]model.DeliveryStatus
	errs    map[string]string
}

func newFakeDeliveriesRepo() *fakeDeliveriesRepo {
	return &fakeDeliveriesRepo{
		results: make(map[string]model.DeliveryStatus),
		errs:    make(map[string]string),
	}
}

func (f *fakeDeliveriesRepo) InsertPending(_ context.Context, d model.DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, d)
	return nil
}

func (f *fakeDeliveriesRepo) MarkResult(_ context.Context, id string, status model.DeliveryStatus, _ int, _ *int, _ string, errMsg string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = status
	f.errs[id] = errMsg
	return nil
}

type fakeDeliverer struct {
	mu   sync.Mutex
	urls []string
	res  DeliveryResult
}

func (f *fakeDeliverer) Deliver(_ context.Context, destinationURL, _, _ string, _ []byte) DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, destinationURL)
	return f.res
}

func TestDispatch_FansOutToMatchingSubscriptions(t *testing.T) {
	subs := &fakeSubsRepo{subs: []model.WebhookSubscription{
		{ID: 1, WorkspaceID: 7, URL: "https://a.example/hook", Secret: "s1", Active: true,
			EventTypes: model.EventTypeList{"step.executed", "enrollment.completed"}},
		{ID: 2, WorkspaceID: 7, URL: "https://b.example/hook", Secret: "s2", Active: true,
			EventTypes: model.EventTypeList{"step.executed"}},
		{ID: 3, WorkspaceID: 7, URL: "https://c.example/hook", Secret: "s3", Active: true,
			EventTypes: model.EventTypeList{"campaign.status_changed"}}, // no match
		{ID: 4, WorkspaceID: 99, URL: "https://other.example/hook", Secret: "s4", Active: true,
			EventTypes: model.EventTypeList{"step.executed"}}, // other workspace
	}}
	deliveries := newFakeDeliveriesRepo()
	client := &fakeDeliverer{res: DeliveryResult{Success: true, Attempts: 1, LastStatusCode: 200}}

	d := NewDispatcher(subs, deliveries, client)
	if err := d.Dispatch(context.Background(), 7, "01EVT", "step.executed", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	if len(client.urls) != 2 {
		t.Fatalf("deliveries = %v, want exactly the two matching endpoints", client.urls)
	}
	// A non-matching subscription gets no attempt row at all.
	if len(deliveries.pending) != 2 {
		t.Errorf("attempt rows = %d, want 2", len(deliveries.pending))
	}
	for _, a := range deliveries.pending {
		if deliveries.results[a.ID] != model.DeliverySuccess {
			t.Errorf("attempt %s status = %s, want success", a.ID, deliveries.results[a.ID])
		}
		if a.EventID != "01EVT" || a.WorkspaceID != 7 {
			t.Errorf("attempt row mislabeled: %+v", a)
		}
	}
}

func TestDispatch_InactiveSubscriptionFailsWithoutNetwork(t *testing.T) {
	subs := &fakeSubsRepo{subs: []model.WebhookSubscription{
		{ID: 1, WorkspaceID: 7, URL: "https://dead.example/hook", Secret: "s", Active: false,
			EventTypes: model.EventTypeList{"step.executed"}},
	}}
	deliveries := newFakeDeliveriesRepo()
	client := &fakeDeliverer{res: DeliveryResult{Success: true}}

	d := NewDispatcher(subs, deliveries, client)
	if err := d.Dispatch(context.Background(), 7, "01EVT", "step.executed", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	if len(client.urls) != 0 {
		t.Error("inactive subscription must not be called")
	}
	if len(deliveries.pending) != 1 {
		t.Fatalf("attempt rows = %d, want 1 audit row", len(deliveries.pending))
	}
	id := deliveries.pending[0].ID
	if deliveries.results[id] != model.DeliveryFailed {
		t.Errorf("status = %s, want failed", deliveries.results[id])
	}
	if deliveries.errs[id] != "subscription inactive" {
		t.Errorf("error = %q", deliveries.errs[id])
	}
}

func TestDispatch_FailedDeliveryRecorded(t *testing.T) {
	subs := &fakeSubsRepo{subs: []model.WebhookSubscription{
		{ID: 1, WorkspaceID: 7, URL: "https://a.example/hook", Secret: "s", Active: true,
			EventTypes: model.EventTypeList{"enrollment.completed"}},
	}}
	deliveries := newFakeDeliveriesRepo()
	client := &fakeDeliverer{res: DeliveryResult{
		Success:        false,
		Attempts:       3,
		LastStatusCode: 503,
		Err:            &statusError{code: 503},
	}}

	d := NewDispatcher(subs, deliveries, client)
	if err := d.Dispatch(context.Background(), 7, "01EVT", "enrollment.completed", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	if len(deliveries.pending) != 1 {
		t.Fatalf("attempt rows = %d, want 1", len(deliveries.pending))
	}
	id := deliveries.pending[0].ID
	if deliveries.results[id] != model.DeliveryFailed {
		t.Errorf("status = %s, want failed", deliveries.results[id])
	}
	if deliveries.errs[id] == "" {
		t.Error("failure reason must be recorded")
	}
}

func TestDispatch_NoSubscriptionsIsNoop(t *testing.T) {
	deliveries := newFakeDeliveriesRepo()
	d := NewDispatcher(&fakeSubsRepo{}, deliveries, &fakeDeliverer{})

	if err := d.Dispatch(context.Background(), 7, "01EVT", "step.executed", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if len(deliveries.pending) != 0 {
		t.Error("no subscriptions, no rows")
	}
}
