package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/outreachd/campaign-engine/internal/logger"
	"github.com/outreachd/campaign-engine/internal/metrics"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/outreachd/campaign-engine/internal/util"
	"go.uber.org/zap"
)

// Deliverer is what the dispatcher needs from the signed client.
type Deliverer interface {
	Deliver(ctx context.Context, destinationURL, secret, eventType string, payload []byte) DeliveryResult
}

// Dispatcher fans one domain event out to every matching subscription,
// recording a DeliveryAttempt per subscriber. Subscribers are independent:
// one endpoint's failure or slowness never blocks the others.
type Dispatcher struct {
	subs       repository.SubscriptionsRepository
	deliveries repository.DeliveriesRepository
	client     Deliverer

	MaxConcurrent int
	now           func() time.Time
}

func NewDispatcher(subs repository.SubscriptionsRepository, deliveries repository.DeliveriesRepository, client Deliverer) *Dispatcher {
	return &Dispatcher{
		subs:          subs,
		deliveries:    deliveries,
		client:        client,
		MaxConcurrent: 8,
		now:           time.Now,
	}
}

// Dispatch resolves subscriptions for (workspace, eventType) and delivers to
// each in parallel with bounded concurrency. A subscription whose event set
// does not include eventType gets no attempt row at all; an inactive one
// gets an immediate failed row with no network call.
func (d *Dispatcher) Dispatch(ctx context.Context, workspaceID int64, eventID, eventType string, payload []byte) error {
	subs, err := d.subs.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}

	maxc := d.MaxConcurrent
	if maxc <= 0 {
		maxc = 1
	}
	sem := make(chan struct{}, maxc)
	var wg sync.WaitGroup

	for _, sub := range subs {
		if !sub.EventTypes.Contains(eventType) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(sub model.WebhookSubscription) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliverOne(ctx, sub, eventID, eventType, payload)
		}(sub)
	}

	wg.Wait()
	return nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, sub model.WebhookSubscription, eventID, eventType string, payload []byte) {
	attempt := model.DeliveryAttempt{
		ID:             util.NewID(),
		SubscriptionID: sub.ID,
		EventID:        eventID,
		WorkspaceID:    sub.WorkspaceID,
		EventType:      eventType,
	}
	if err := d.deliveries.InsertPending(ctx, attempt); err != nil {
		logger.Log.Error("insert pending delivery failed",
			zap.Int64("subscription_id", sub.ID),
			zap.String("event_id", eventID),
			zap.Error(err))
		return
	}

	if !sub.Active {
		metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
		d.finish(ctx, attempt.ID, model.DeliveryFailed, 0, nil, "", "subscription inactive")
		return
	}

	res := d.client.Deliver(ctx, sub.URL, sub.Secret, eventType, payload)

	status := model.DeliverySuccess
	errMsg := ""
	if !res.Success {
		status = model.DeliveryFailed
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
	}
	metrics.DeliveriesTotal.WithLabelValues(status.String()).Inc()

	var code *int
	if res.LastStatusCode != 0 {
		c := res.LastStatusCode
		code = &c
	}
	d.finish(ctx, attempt.ID, status, res.Attempts, code, res.ResponseExcerpt, errMsg)
}

func (d *Dispatcher) finish(ctx context.Context, attemptID string, status model.DeliveryStatus, attempts int, code *int, excerpt, errMsg string) {
	if err := d.deliveries.MarkResult(ctx, attemptID, status, attempts, code, excerpt, errMsg, d.now()); err != nil {
		logger.Log.Error("finalize delivery attempt failed",
			zap.String("attempt_id", attemptID),
			zap.Error(err))
	}
}
