// Package store layers the dual-path read/write logic over the primary
// database and the on-disk snapshot cache: reads transparently fall back
// to cache while the primary is down, writes are rejected outright.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"loreline/internal/cache"
	"loreline/internal/repo"
)

// ErrUnavailable means the primary store is down and no cached copy
// exists. Distinct from a genuine not-found.
var ErrUnavailable = errors.New("service unavailable")

// ErrOfflineWrite rejects writes while the primary store is down. Writes
// are never buffered for replay: once back online the primary is the sole
// source of truth and the cache is refreshed wholesale.
var ErrOfflineWrite = errors.New("writes disabled while primary store is offline")

// Collection names double as snapshot-cache directory names.
const (
	ColDocuments  = "documents"
	ColDirectives = "directives"
	ColTasks      = "tasks"
	ColStates     = "states"
	ColActivity   = "activity"
)

type Store struct {
	Repo   repo.Repo
	Cache  *cache.Cache
	Sup    *Supervisor
	Logger *log.Logger
}

func New(r repo.Repo, c *cache.Cache, sup *Supervisor, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{Repo: r, Cache: c, Sup: sup, Logger: logger}
}

// logical errors never flip the connection state.
func isLogical(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrConflict)
}

// ReadOne serves a single entity: primary with refresh-on-read while
// online, snapshot cache otherwise. The bool reports cache-sourced.
func ReadOne[T any](ctx context.Context, s *Store, collection, key string, primary func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if !s.Sup.Online() {
		var v T
		if s.Cache.Get(collection, key, &v) {
			return v, true, nil
		}
		return zero, false, ErrUnavailable
	}
	v, err := primary(ctx)
	if err == nil {
		s.Cache.Set(collection, key, v)
		return v, false, nil
	}
	if isLogical(err) {
		return zero, false, err
	}
	s.Logger.Printf("store: primary read %s/%s failed: %v", collection, key, err)
	s.Sup.MarkOffline()
	var v2 T
	if s.Cache.Get(collection, key, &v2) {
		return v2, true, nil
	}
	return zero, false, ErrUnavailable
}

// ReadAll serves a full collection. On a successful primary read every
// entity is refreshed into the cache; the fallback reads whatever the
// collection directory holds. A missing directory means this collection
// was never mirrored, which is unavailable, not empty.
func ReadAll[T any](ctx context.Context, s *Store, collection string, key func(T) string, primary func(context.Context) ([]T, error)) ([]T, bool, error) {
	if !s.Sup.Online() {
		if items, ok := cache.All[T](s.Cache, collection); ok {
			return items, true, nil
		}
		return nil, false, ErrUnavailable
	}
	items, err := primary(ctx)
	if err == nil {
		for _, item := range items {
			s.Cache.Set(collection, key(item), item)
		}
		return items, false, nil
	}
	if isLogical(err) {
		return nil, false, err
	}
	s.Logger.Printf("store: primary list %s failed: %v", collection, err)
	s.Sup.MarkOffline()
	if cached, ok := cache.All[T](s.Cache, collection); ok {
		return cached, true, nil
	}
	return nil, false, ErrUnavailable
}

// Write runs a primary-store mutation. Offline writes are rejected before
// touching anything; a connection-level failure mid-write flips the flag
// and surfaces as unavailable. Cache write-through is the caller's job,
// after the primary commit.
func (s *Store) Write(ctx context.Context, op func(context.Context) error) error {
	if !s.Sup.Online() {
		return ErrOfflineWrite
	}
	if err := op(ctx); err != nil {
		if isLogical(err) {
			return err
		}
		s.Logger.Printf("store: primary write failed: %v", err)
		s.Sup.MarkOffline()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
