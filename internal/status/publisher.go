package status

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives cycle snapshots. Deliver is called from the sink's own
// goroutine, one snapshot at a time, with a per-delivery deadline.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, snap *Snapshot) error
}

// PublisherOptions bound the queues and deliveries.
type PublisherOptions struct {
	QueueSize       int
	DeliveryTimeout time.Duration
}

// DefaultPublisherOptions returns the defaults used by the controller.
func DefaultPublisherOptions() PublisherOptions {
	return PublisherOptions{QueueSize: 32, DeliveryTimeout: 2 * time.Second}
}

// SinkStats counts what happened to snapshots offered to one sink.
type SinkStats struct {
	Name      string
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// Publisher fans snapshots out to sinks without ever blocking the caller.
// Each sink has a bounded queue; when it is full the oldest snapshot is
// dropped, since every snapshot fully replaces the previous one.
type Publisher struct {
	tracker *Tracker
	opts    PublisherOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	queues []*sinkQueue
}

type sinkQueue struct {
	sink Sink
	ch   chan *Snapshot

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher starts one delivery goroutine per sink. tracker may be nil.
func NewPublisher(tracker *Tracker, opts PublisherOptions, sinks ...Sink) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultPublisherOptions().QueueSize
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultPublisherOptions().DeliveryTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		tracker: tracker,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, s := range sinks {
		q := &sinkQueue{sink: s, ch: make(chan *Snapshot, opts.QueueSize)}
		p.queues = append(p.queues, q)
		p.wg.Add(1)
		go p.deliver(q)
	}
	return p
}

// Publish records snap as the latest snapshot and offers it to every sink.
// It never blocks and never fails; snap must not be modified afterwards.
func (p *Publisher) Publish(snap *Snapshot) {
	if p.tracker != nil {
		p.tracker.Store(snap)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, q := range p.queues {
		q.offer(snap)
	}
}

func (q *sinkQueue) offer(snap *Snapshot) {
	for {
		select {
		case q.ch <- snap:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

func (p *Publisher) deliver(q *sinkQueue) {
	defer p.wg.Done()

	failing := false
	for snap := range q.ch {
		ctx, cancel := context.WithTimeout(p.ctx, p.opts.DeliveryTimeout)
		err := q.sink.Deliver(ctx, snap)
		cancel()

		if err != nil {
			q.failed.Add(1)
			if !failing {
				log.Printf("publish: %s failing: %v", q.sink.Name(), err)
				failing = true
			}
			continue
		}
		q.delivered.Add(1)
		if failing {
			log.Printf("publish: %s recovered", q.sink.Name())
			failing = false
		}
	}
}

// Stats returns per-sink counters in registration order.
func (p *Publisher) Stats() []SinkStats {
	out := make([]SinkStats, 0, len(p.queues))
	for _, q := range p.queues {
		out = append(out, SinkStats{
			Name:      q.sink.Name(),
			Delivered: q.delivered.Load(),
			Failed:    q.failed.Load(),
			Dropped:   q.dropped.Load(),
		})
	}
	return out
}

// Close stops accepting snapshots and waits for queued ones to be delivered.
// If ctx expires first, in-flight deliveries are cancelled and ctx.Err() is
// returned. Sinks themselves are not closed.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q.ch)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
