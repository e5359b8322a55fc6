// Package subscription implements Promise, a read result that can either be
// awaited once or listened to for live updates.
package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/syntrixbase/typestore/pkg/model"
)

// FetchFunc performs a one-shot read.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// SubscribeFunc starts a live read. onResult and onError may be called from
// any goroutine but never concurrently for one subscription. The returned
// function releases the subscription.
type SubscribeFunc[T any] func(onResult func(T), onError func(error)) (func(), error)

// State is the outcome held by a Promise.
type State int

const (
	Pending State = iota
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return "pending"
}

type mode int

const (
	modeIdle mode = iota
	modeAwait
	modeListen
)

// Option configures a Promise.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for subscription lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Promise is a lazily executed read. The first consumer decides the mode:
// Await runs the fetch once and caches the outcome for every awaiter, Listen
// opens a single driver subscription shared by all listeners. Mixing the two
// on one Promise is a usage error.
type Promise[T any] struct {
	req       model.Request
	fetch     FetchFunc[T]
	subscribe SubscribeFunc[T]
	logger    *slog.Logger

	mu     sync.Mutex
	mode   mode
	state  State
	result T
	err    error

	fetching bool
	done     chan struct{}

	nextID         uint64
	listeners      []resultListener[T]
	errorListeners []errorListener

	subscribing bool
	unsubscribe func()
	generation  uint64
}

type resultListener[T any] struct {
	id uint64
	cb func(T)
}

type errorListener struct {
	id uint64
	cb func(error)
}

// New creates a Promise. No driver call happens until it is consumed.
func New[T any](req model.Request, fetch FetchFunc[T], subscribe SubscribeFunc[T], opts ...Option) *Promise[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Promise[T]{
		req:       req,
		fetch:     fetch,
		subscribe: subscribe,
		logger:    o.logger,
		done:      make(chan struct{}),
	}
}

// Request returns the read this promise was built from.
func (p *Promise[T]) Request() model.Request {
	return p.req
}

// State returns the current outcome state.
func (p *Promise[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Await runs the fetch on first call and returns its outcome. Later and
// concurrent calls wait for the same outcome; ctx only bounds the waiting of
// those callers, the first caller's ctx governs the fetch itself.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.mode == modeListen {
		p.mu.Unlock()
		return zero, &model.UsageError{Err: model.ErrAlreadySubscribed}
	}
	p.mode = modeAwait
	if p.fetching {
		p.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return zero, model.WrapDriverError("await", ctx.Err())
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.result, p.err
	}
	p.fetching = true
	p.mu.Unlock()

	p.logger.Debug("Fetching", "request", p.req.String())
	result, err := p.fetch(ctx)

	p.mu.Lock()
	if err != nil {
		p.state = Failed
		p.err = err
		result = zero
	} else {
		p.state = Resolved
		p.result = result
	}
	close(p.done)
	p.mu.Unlock()
	return result, err
}

// Listen attaches cb to the result. A cached result is delivered to cb
// immediately. Otherwise the first listener opens the driver subscription
// and later listeners share it.
func (p *Promise[T]) Listen(cb func(T)) (*Listener, error) {
	p.mu.Lock()
	if p.mode == modeAwait {
		p.mu.Unlock()
		return nil, &model.UsageError{Err: model.ErrAlreadyAwaited}
	}
	p.mode = modeListen
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, resultListener[T]{id: id, cb: cb})

	state, result := p.state, p.result
	start := state == Pending && p.unsubscribe == nil && !p.subscribing
	if start {
		p.subscribing = true
		p.generation++
	}
	gen := p.generation
	p.mu.Unlock()

	l := &Listener{
		off:   func() { p.removeResult(id) },
		catch: p.catch,
	}

	if state == Resolved {
		cb(result)
		return l, nil
	}
	if start {
		p.start(gen)
	}
	return l, nil
}

func (p *Promise[T]) start(gen uint64) {
	p.logger.Debug("Subscribing", "request", p.req.String())
	unsubscribe, err := p.subscribe(
		func(v T) { p.push(gen, v) },
		func(err error) { p.fail(gen, err) },
	)

	p.mu.Lock()
	if p.generation != gen {
		// Everyone detached while the subscription was being set up.
		p.mu.Unlock()
		if err == nil && unsubscribe != nil {
			p.logger.Debug("Unsubscribing", "request", p.req.String())
			unsubscribe()
		}
		return
	}
	p.subscribing = false
	if err != nil {
		p.state = Failed
		p.err = err
		listeners := make([]errorListener, len(p.errorListeners))
		copy(listeners, p.errorListeners)
		p.mu.Unlock()
		p.logger.Debug("Subscribe failed", "request", p.req.String(), "error", err)
		for _, l := range listeners {
			l.cb(err)
		}
		return
	}
	if unsubscribe == nil {
		unsubscribe = func() {}
	}
	p.unsubscribe = unsubscribe
	p.mu.Unlock()
}

func (p *Promise[T]) push(gen uint64, v T) {
	p.mu.Lock()
	if gen != p.generation || !p.live() {
		p.mu.Unlock()
		return
	}
	p.state = Resolved
	p.result = v
	p.err = nil
	listeners := make([]resultListener[T], len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l.cb(v)
	}
}

func (p *Promise[T]) fail(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.generation || !p.live() {
		p.mu.Unlock()
		return
	}
	p.state = Failed
	p.err = err
	listeners := make([]errorListener, len(p.errorListeners))
	copy(listeners, p.errorListeners)
	p.mu.Unlock()

	if len(listeners) == 0 {
		p.logger.Debug("Subscription error with no error listener", "request", p.req.String(), "error", err)
	}
	for _, l := range listeners {
		l.cb(err)
	}
}

// live reports whether the current subscription generation still has an
// audience. Caller must hold p.mu.
func (p *Promise[T]) live() bool {
	return p.subscribing || p.unsubscribe != nil
}

func (p *Promise[T]) catch(cb func(error)) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.errorListeners = append(p.errorListeners, errorListener{id: id, cb: cb})
	state, err := p.state, p.err
	p.mu.Unlock()

	if state == Failed {
		cb(err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { p.removeError(id) })
	}
}

func (p *Promise[T]) removeResult(id uint64) {
	p.mu.Lock()
	for i, l := range p.listeners {
		if l.id == id {
			p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
			break
		}
	}
	p.maybeTeardownLocked()
}

func (p *Promise[T]) removeError(id uint64) {
	p.mu.Lock()
	for i, l := range p.errorListeners {
		if l.id == id {
			p.errorListeners = append(p.errorListeners[:i:i], p.errorListeners[i+1:]...)
			break
		}
	}
	p.maybeTeardownLocked()
}

// maybeTeardownLocked releases the driver subscription once nobody listens.
// It is called with p.mu held and unlocks it.
func (p *Promise[T]) maybeTeardownLocked() {
	if len(p.listeners) > 0 || len(p.errorListeners) > 0 {
		p.mu.Unlock()
		return
	}
	unsubscribe := p.unsubscribe
	if unsubscribe != nil || p.subscribing {
		// Pushes from the released subscription are dropped from now on. A
		// subscription still being set up is released by start.
		p.generation++
	}
	p.unsubscribe = nil
	p.subscribing = false
	p.mu.Unlock()

	if unsubscribe != nil {
		p.logger.Debug("Unsubscribing", "request", p.req.String())
		unsubscribe()
	}
}

// Listener is the handle returned by Listen.
type Listener struct {
	once  sync.Once
	off   func()
	catch func(func(error)) func()
}

// Off detaches the result callback. It is safe to call more than once.
func (l *Listener) Off() {
	l.once.Do(l.off)
}

// Catch attaches an error callback to the same promise. A cached error is
// delivered immediately. The returned function detaches only cb.
func (l *Listener) Catch(cb func(error)) func() {
	return l.catch(cb)
}
