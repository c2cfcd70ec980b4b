// Package source implements the event source adapter: it subscribes to the
// external sensor stream, parses each raw record into a typed event, and
// hands it to the process-tree tracker, with a start/stop/drain lifecycle.
package source

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navshield/sentineltrace/internal/metrics"
	"github.com/navshield/sentineltrace/pkg/circuitbreaker"
	"github.com/navshield/sentineltrace/pkg/events"
	"github.com/navshield/sentineltrace/pkg/sentinelerrors"
)

// Handler is whatever wants typed events delivered in sensor order — the
// process-tree tracker in production, a recording fake in tests.
type Handler interface {
	Handle(ev events.Event)
}

// Adapter subscribes to a Sensor and feeds a Handler.
type Adapter struct {
	sensor  Sensor
	handler Handler
	logger  *logrus.Logger
	breaker *circuitbreaker.Breaker

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	running bool
}

// New creates an Adapter. The breaker guards Subscribe itself: if the sensor
// repeatedly fails to open a subscription, Start returns SensorUnavailable
// instead of retrying indefinitely.
func New(sensor Sensor, handler Handler, logger *logrus.Logger) *Adapter {
	return &Adapter{
		sensor:  sensor,
		handler: handler,
		logger:  logger,
		breaker: circuitbreaker.New(circuitbreaker.Config{MaxFailures: 3, ResetTimeout: 10 * time.Second}),
	}
}

// Start subscribes to the sensor and begins delivering events to the
// handler on a background goroutine. It returns once the subscription is
// established (or fails).
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	var ch <-chan RawRecord
	err := a.breaker.Execute(func() error {
		var subErr error
		ch, subErr = a.sensor.Subscribe(ctx)
		return subErr
	})
	if err != nil {
		return sentinelerrors.SensorUnavailable("start", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go a.run(runCtx, ch)
	return nil
}

func (a *Adapter) run(ctx context.Context, ch <-chan RawRecord) {
	defer close(a.done)
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				return
			}
			ev, err := parseEvent(raw)
			if err != nil {
				metrics.EventsDroppedTotal.WithLabelValues("unsupported_or_malformed").Inc()
				a.logger.WithFields(logrus.Fields{
					"component": "source",
					"host":      raw.Host,
					"record_id": raw.RecordID,
					"kind":      raw.KindCode,
				}).WithError(err).Warn("dropping malformed or unsupported record")
				continue
			}
			metrics.EventsIngestedTotal.WithLabelValues(ev.Header.Host, strconv.Itoa(int(ev.Header.Kind))).Inc()
			a.handler.Handle(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Stop unsubscribes and waits for the in-flight record (if any) to drain,
// up to a short grace period. Safe to call multiple times.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		a.logger.Warn("source adapter drain timed out")
	}
	return a.sensor.Close()
}
