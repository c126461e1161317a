package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
	// OnDrop is called for each entry discarded on a full buffer.
	OnDrop func()
}

type item struct {
	login    *LoginHistoryEntry
	security *SecurityLogEntry
}

// Dispatcher forwards entries to a Recorder on one background goroutine.
// A nil Dispatcher accepts and discards entries.
type Dispatcher struct {
	cfg      Config
	recorder Recorder
	log      *zap.Logger

	ch        chan item
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, recorder Recorder, log *zap.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:      cfg,
		recorder: recorder,
		log:      log,
		ch:       make(chan item, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case it := <-d.ch:
			d.deliver(it)
		case <-d.done:
			for {
				select {
				case it := <-d.ch:
					d.deliver(it)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(it item) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	var err error
	switch {
	case it.login != nil:
		err = d.recorder.RecordLogin(ctx, *it.login)
	case it.security != nil:
		err = d.recorder.RecordSecurityEvent(ctx, *it.security)
	}
	if err != nil {
		d.failed.Add(1)
		d.log.Warn("audit write failed", zap.Error(err))
	}
}

// Login queues a login history entry.
func (d *Dispatcher) Login(ctx context.Context, e LoginHistoryEntry) {
	d.enqueue(ctx, item{login: &e})
}

// Security queues a security log entry.
func (d *Dispatcher) Security(ctx context.Context, e SecurityLogEntry) {
	d.enqueue(ctx, item{security: &e})
}

func (d *Dispatcher) enqueue(ctx context.Context, it item) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- it:
		case <-d.done:
		default:
			d.dropped.Add(1)
			if d.cfg.OnDrop != nil {
				d.cfg.OnDrop()
			}
		}
		return
	}

	select {
	case d.ch <- it:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting entries and drains what is buffered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many entries were discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns how many entries the recorder rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
