package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/outreachd/campaign-engine/internal/kafka"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/webhook"
)

// DispatcherKafka:
//   - fetches domain event envelopes from Kafka (relayed from the outbox),
//   - fans each event out to matching webhook subscriptions,
//   - commits offsets after the fan-out finishes. Processors commit out of
//     order, so a failed event's redelivery is best effort: a sibling's later
//     commit on the same partition supersedes the held-back offset. The
//     durable record of every outcome is the append-only delivery_attempts
//     log, which also absorbs redelivered duplicates.
type DispatcherKafka struct {
	Consumer   *kafka.Consumer
	Dispatcher *webhook.Dispatcher

	Workers int // number of goroutines processing events
}

// NewDispatcherKafka builds a worker with sane defaults.
func NewDispatcherKafka(consumer *kafka.Consumer, d *webhook.Dispatcher) *DispatcherKafka {
	return &DispatcherKafka{
		Consumer:   consumer,
		Dispatcher: d,
		Workers:    8,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *DispatcherKafka) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("[dispatcher] kafka fetch err: %v", err)
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	for i := 0; i < w.Workers; i++ {
		go w.runProcessor(ctx, msgCh)
	}

	<-ctx.Done()
	return nil
}

func (w *DispatcherKafka) runProcessor(ctx context.Context, in <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			w.processOne(ctx, m)
		}
	}
}

func (w *DispatcherKafka) processOne(ctx context.Context, m kafka.Message) {
	var env model.EventEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.EventID == "" {
		_ = w.Consumer.Commit(ctx, m) // poison → commit, skip
		if err != nil {
			log.Printf("[dispatcher] bad envelope json: %v", err)
		} else {
			log.Printf("[dispatcher] envelope missing event_id")
		}
		return
	}

	if err := w.Dispatcher.Dispatch(ctx, env.WorkspaceID, env.EventID, env.EventType, env.Payload); err != nil {
		// Hold the offset back so the event may be refetched. Best effort
		// only: a sibling committing a later offset drops it, and the failed
		// delivery_attempts rows become the basis for a manual retry.
		log.Printf("[dispatcher] dispatch err event=%s: %v", env.EventID, err)
		return
	}

	if err := w.Consumer.Commit(ctx, m); err != nil {
		log.Printf("[dispatcher] commit err: %v", err)
	}
}
