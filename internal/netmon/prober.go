package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 10 * time.Second
	probeTimeout         = 3 * time.Second
)

// Prober is a Monitor that dials a TCP address on an interval and flips
// between online and offline based on whether the dial succeeds. It is the
// default connectivity signal for headless deployments where no host
// platform signal exists.
type Prober struct {
	state    *Manual
	addr     string
	interval time.Duration
	logger   *zap.Logger
	dial     func(addr string) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates an unstarted Prober targeting addr (host:port).
// interval <= 0 defaults to 10s. The prober starts out assuming online so
// the first connect attempt is not gated on a probe cycle.
func NewProber(addr string, interval time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &Prober{
		state:    NewManual(true),
		addr:     addr,
		interval: interval,
		logger:   logger,
		dial: func(addr string) error {
			conn, err := net.DialTimeout("tcp", addr, probeTimeout)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

// Online reports the last probed state.
func (p *Prober) Online() bool { return p.state.Online() }

// Subscribe registers fn for state flips.
func (p *Prober) Subscribe(fn func(bool)) func() { return p.state.Subscribe(fn) }

// Start begins probing until ctx is cancelled or Stop is called.
func (p *Prober) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(ctx, done)
}

// Stop halts probing. Safe to call before Start and more than once.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Prober) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.dial(p.addr)
			online := err == nil
			if online != p.state.Online() {
				if online {
					p.logger.Info("network reachable", zap.String("addr", p.addr))
				} else {
					p.logger.Warn("network unreachable", zap.String("addr", p.addr), zap.Error(err))
				}
			}
			p.state.SetOnline(online)
		}
	}
}
