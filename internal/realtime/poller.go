package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eachlabs/opschat/internal/channel"
)

// DefaultPollInterval is how often the poller re-reads the open channel.
const DefaultPollInterval = 3 * time.Second

// FetchFunc reads the most recent messages of a channel.
type FetchFunc func(ctx context.Context) ([]*channel.Message, error)

// SinkFunc receives every polled batch.
type SinkFunc func(msgs []*channel.Message)

// Poller re-fetches a channel at a fixed interval. Correctness of the open
// channel never depends on the push feed because of it.
type Poller struct {
	interval time.Duration
	fetch    FetchFunc
	sink     SinkFunc
	log      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// OnTick, when set, observes the outcome of every poll.
	OnTick func(err error)
}

// NewPoller creates a stopped poller.
func NewPoller(interval time.Duration, fetch FetchFunc, sink SinkFunc, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		interval: interval,
		fetch:    fetch,
		sink:     sink,
		log:      log,
	}
}

// Start begins polling until Stop or ctx ends.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop ends polling and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	<-done
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := p.fetch(ctx)
			if p.OnTick != nil {
				p.OnTick(err)
			}
			if err != nil {
				if ctx.Err() == nil {
					p.log.Debug("poll failed", "err", err)
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.sink(msgs)
		}
	}
}
