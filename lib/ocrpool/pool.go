package ocrpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrNotInitialized = fmt.Errorf("ocr pool is not initialized")

// how many times creating a single engine instance is retried before the
// slot is given up on
const createRetries = 3

// Slot is one engine instance held exclusively by the acquirer until
// released back to the pool.
type Slot struct {
	engine Engine
	pool   *Pool
	busy   atomic.Bool
}

type Pool struct {
	factory EngineFactory
	size    int

	mu    sync.Mutex
	idle  chan *Slot
	slots []*Slot

	stats stats
}

// New creates an uninitialized pool. `factory` may be nil, in which case
// tesseract engines are used.
func New(size int, factory EngineFactory) *Pool {
	if size < 1 {
		size = 1
	}
	if factory == nil {
		factory = NewTesseractEngine
	}
	return &Pool{size: size, factory: factory}
}

// Initialize creates and warms every engine instance. Calling it on an
// already initialized pool is a no-op. It fails only if not a single
// engine could be created.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idle != nil {
		return nil
	}

	idle := make(chan *Slot, p.size)
	var slots []*Slot
	for i := 0; i < p.size; i++ {
		engine, err := createEngine(p.factory)
		if err != nil {
			slog.WarnContext(ctx, "failed to create ocr engine", "slot", i, "err", err)
			continue
		}
		s := &Slot{engine: engine, pool: p}
		slots = append(slots, s)
		idle <- s
	}
	if len(slots) == 0 {
		return fmt.Errorf("ocr pool: no engine instance could be created")
	}
	if len(slots) < p.size {
		slog.WarnContext(ctx, "ocr pool started degraded", "want", p.size, "got", len(slots))
	}

	p.slots = slots
	p.idle = idle
	return nil
}

func createEngine(factory EngineFactory) (Engine, error) {
	var err error
	for try := 0; try < createRetries; try++ {
		var engine Engine
		engine, err = factory()
		if err == nil {
			return engine, nil
		}
	}
	return nil, err
}

// Acquire hands out an idle slot, blocking until one is released or the
// context is done.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	if idle == nil {
		return nil, ErrNotInitialized
	}

	select {
	case s := <-idle:
		s.busy.Store(true)
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a slot to the pool. Releasing a nil, foreign or
// already-idle slot is a no-op.
func (p *Pool) Release(s *Slot) {
	if s == nil || s.pool != p {
		return
	}
	if !s.busy.CompareAndSwap(true, false) {
		return
	}

	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	if idle == nil {
		// pool was shut down while the slot was held
		return
	}
	idle <- s
}

// Recognize acquires a slot, runs one recognition on it and releases the
// slot, recording stats either way.
func (p *Pool) Recognize(ctx context.Context, image []byte) (string, error) {
	slot, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer p.Release(slot)

	start := time.Now()
	text, err := slot.engine.Recognize(ctx, image)
	p.stats.record(ctx, time.Since(start), err == nil)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Shutdown disposes every engine and resets the pool to uninitialized.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idle == nil {
		return nil
	}

	var errlist []error
	for _, s := range p.slots {
		err := s.engine.Close()
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	p.slots = nil
	p.idle = nil
	return errors.Join(errlist...)
}
