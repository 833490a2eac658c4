package store

import (
	"context"
	"database/sql"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Supervisor owns the liveness of the primary-database connection. It is
// the single place the online/offline flag lives; every component that
// cares gets the supervisor injected rather than reading ambient state.
type Supervisor struct {
	DB     *sql.DB
	Logger *log.Logger

	// ConnectAttempts bounds the startup connect loop; backoff grows
	// 1s,2s,4s,... capped at BackoffCeiling.
	ConnectAttempts   int
	BackoffCeiling    time.Duration
	ReconnectInterval time.Duration

	// Repopulate refreshes the snapshot cache for every collection after
	// a successful (re)connection. It is not re-entrant-safe, so calls go
	// through a singleflight group.
	Repopulate func(context.Context) error

	// Sleep is swapped in tests.
	Sleep func(time.Duration)

	online atomic.Bool
	group  singleflight.Group
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(db *sql.DB, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		DB:                db,
		Logger:            logger,
		ConnectAttempts:   5,
		BackoffCeiling:    30 * time.Second,
		ReconnectInterval: 60 * time.Second,
		Sleep:             time.Sleep,
	}
}

// Online reports whether the primary store is believed reachable.
func (s *Supervisor) Online() bool { return s.online.Load() }

// MarkOffline flips to disconnected immediately so a single failed request
// fails fast for everyone until the next successful probe.
func (s *Supervisor) MarkOffline() {
	if s.online.CompareAndSwap(true, false) {
		s.Logger.Printf("store: primary database marked offline")
	}
}

// Start attempts the initial connection with bounded retries, then launches
// the background reconnect loop. It never returns an error: exhausting the
// retries leaves the process serving from cache in degraded mode.
func (s *Supervisor) Start(ctx context.Context) {
	if s.tryConnect(ctx) {
		s.markOnline(ctx)
	} else {
		s.Logger.Printf("store: primary database unreachable after %d attempts; serving degraded", s.ConnectAttempts)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.reconnectLoop(loopCtx)
}

// Stop tears down the background reconnect loop.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Supervisor) tryConnect(ctx context.Context) bool {
	backoff := time.Second
	for attempt := 1; attempt <= s.ConnectAttempts; attempt++ {
		if err := s.DB.PingContext(ctx); err == nil {
			return true
		} else {
			s.Logger.Printf("store: connect attempt %d/%d failed: %v", attempt, s.ConnectAttempts, err)
		}
		if attempt == s.ConnectAttempts || ctx.Err() != nil {
			break
		}
		s.Sleep(backoff)
		backoff *= 2
		if backoff > s.BackoffCeiling {
			backoff = s.BackoffCeiling
		}
	}
	return false
}

// reconnectLoop probes on a fixed interval while disconnected. A tick while
// online is a no-op, so the loop can stay alive for the process lifetime
// and pick up again whenever a request path flips the flag back off.
func (s *Supervisor) reconnectLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.ReconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Online() {
				continue
			}
			if err := s.DB.PingContext(ctx); err != nil {
				continue
			}
			s.markOnline(ctx)
		}
	}
}

// markOnline runs the recovery hook, then flips the flag. Concurrent
// triggers (reconnect tick racing an admin-triggered refresh) collapse
// into a single pass. A failed hook keeps the node offline; the next
// tick retries the whole sequence.
func (s *Supervisor) markOnline(ctx context.Context) {
	if s.Repopulate != nil {
		if _, err, _ := s.group.Do("repopulate", func() (any, error) {
			return nil, s.Repopulate(ctx)
		}); err != nil {
			s.Logger.Printf("store: recovery failed, staying offline: %v", err)
			return
		}
	}
	if s.online.CompareAndSwap(false, true) {
		s.Logger.Printf("store: primary database online")
	}
}

// Probe pings the primary immediately, flipping online on success. Used by
// the health surface so recovery is observed without waiting for the
// background ticker. A reachable primary whose recovery hook failed still
// reports offline.
func (s *Supervisor) Probe(ctx context.Context) bool {
	if s.Online() {
		return true
	}
	if err := s.DB.PingContext(ctx); err != nil {
		return false
	}
	s.markOnline(ctx)
	return s.Online()
}
