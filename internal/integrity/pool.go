package integrity

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SessionRefreshThreshold is the number of checkouts a pooled session serves
// before it is terminated and replaced.
const SessionRefreshThreshold = 500

// pooledSession is a session with the number of checkouts it has served.
type pooledSession struct {
	session Session
	uses    int
}

// SessionPool hands out up to size sessions, one goroutine at a time each.
// Sessions are created on first demand and recycled after serving the refresh
// threshold of checkouts. Close terminates every session the pool created.
type SessionPool struct {
	factory   SessionFactory
	threshold int
	logger    Logger

	idle chan *pooledSession

	mu        sync.Mutex
	size      int
	created   []*pooledSession
	refreshes int
	closed    bool
}

// NewSessionPool creates a pool of at most size sessions.
func NewSessionPool(factory SessionFactory, size, threshold int, logger Logger) *SessionPool {
	if size < 1 {
		size = 1
	}
	if threshold < 1 {
		threshold = SessionRefreshThreshold
	}
	return &SessionPool{
		factory:   factory,
		threshold: threshold,
		logger:    logger,
		idle:      make(chan *pooledSession, size),
		size:      size,
	}
}

var errPoolClosed = errors.New("session pool closed")

// Do borrows a session, refreshing it first if it has reached the threshold,
// and runs fn with it. Once the pool is closed Do fails with a closed error
// and never opens another session.
func (p *SessionPool) Do(ctx context.Context, fn func(Session) error) error {
	ps, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(ps)

	if ps.session == nil || ps.uses >= p.threshold {
		if err := p.refresh(ctx, ps); err != nil {
			return err
		}
	}
	ps.uses++
	return fn(ps.session)
}

func (p *SessionPool) acquire(ctx context.Context) (*pooledSession, error) {
	select {
	case ps := <-p.idle:
		return p.checkOpen(ps)
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	if len(p.created) < p.size {
		ps := &pooledSession{}
		p.created = append(p.created, ps)
		p.mu.Unlock()

		sess, err := p.factory.NewSession(ctx)
		p.mu.Lock()
		if err != nil {
			p.remove(ps)
			p.mu.Unlock()
			return nil, err
		}
		if p.closed {
			// Close ran while connecting and could not see this session.
			p.remove(ps)
			p.mu.Unlock()
			p.terminate(sess)
			return nil, errPoolClosed
		}
		ps.session = sess
		p.mu.Unlock()
		return ps, nil
	}
	p.mu.Unlock()

	select {
	case ps := <-p.idle:
		return p.checkOpen(ps)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checkOpen hands ps out unless the pool has been closed, in which case ps
// goes back to idle to wake the next waiter.
func (p *SessionPool) checkOpen(ps *pooledSession) (*pooledSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.idle <- ps
		return nil, errPoolClosed
	}
	return ps, nil
}

func (p *SessionPool) release(ps *pooledSession) {
	p.idle <- ps
}

// remove drops ps from the created list. Caller holds p.mu.
func (p *SessionPool) remove(ps *pooledSession) {
	for i, c := range p.created {
		if c == ps {
			p.created = append(p.created[:i], p.created[i+1:]...)
			return
		}
	}
}

func (p *SessionPool) refresh(ctx context.Context, ps *pooledSession) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPoolClosed
	}
	old := ps.session
	ps.session = nil
	p.mu.Unlock()

	if old != nil {
		if err := old.Terminate(); err != nil {
			p.logger.Warn("terminating session for refresh", "error", err)
		}
	}
	sess, err := p.factory.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("refreshing session: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.terminate(sess)
		return errPoolClosed
	}
	ps.session = sess
	ps.uses = 0
	p.refreshes++
	p.mu.Unlock()
	p.logger.Debug("session refreshed", "threshold", p.threshold)
	return nil
}

func (p *SessionPool) terminate(sess Session) {
	if err := sess.Terminate(); err != nil {
		p.logger.Warn("terminating session opened during close", "error", err)
	}
}

// Refreshes returns how many times a session was replaced.
func (p *SessionPool) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Close terminates every session the pool created. Sessions still being
// connected are terminated by their acquirer. It is safe to call more than
// once.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, ps := range p.created {
		if ps.session == nil {
			continue
		}
		if err := ps.session.Terminate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
