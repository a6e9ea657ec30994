// Package store mirrors remote tables into in-memory, user-scoped lists. One
// generic Store serves every table; instances differ only in their Schema.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/session"
	"github.com/rs/zerolog"
)

// ErrUnauthenticated is returned by every mutator when no user is signed in.
var ErrUnauthenticated = remote.ErrUnauthenticated

// ErrValidation is wrapped by entity validation failures.
var ErrValidation = errors.New("validation failed")

// SessionSource is the part of the session manager a store depends on.
type SessionSource interface {
	UserID() string
	OnUserChange(fn session.UserChangeFunc) (cancel func())
}

// Patch carries the fields of a partial update. Only the returned columns are
// written.
type Patch interface {
	Fields() (remote.Row, error)
}

// Schema describes how one table maps to its entity type.
type Schema[T any] struct {
	Table   string
	Order   remote.Order
	Filters []remote.Filter
	Limit   int

	// ID returns the entity's id.
	ID func(T) string

	// Prepare fills defaults (id, colors, timestamps) before a create. It
	// receives a copy and returns the entity as it will be written.
	Prepare func(T) T

	Validate func(T) error
	Encode   func(T) (remote.Row, error)
	Decode   func(remote.Row) (T, error)
}

// Store is a reactive mirror of one remote table for the current user.
//
// Loads are sequence-numbered and tagged with the session generation they
// were issued under. A load result is applied only if the session has not
// changed since it was issued and no newer load has already been applied, so
// neither a slow response from before a sign-out nor an older response that
// arrives late can overwrite fresher state.
type Store[T any] struct {
	schema  Schema[T]
	table   remote.Table
	client  remote.Client
	session SessionSource
	log     zerolog.Logger

	mu        sync.RWMutex
	items     []T
	loading   bool
	userID    string
	gen       uint64
	issued    uint64
	applied   uint64
	sub       remote.Subscription
	subCancel context.CancelFunc
	baseCtx   context.Context

	listenersMu sync.Mutex
	listeners   map[uint64]func()
	nextID      uint64

	unregister func()
}

// New creates a store for schema. Call Start to bind it to the session.
func New[T any](schema Schema[T], client remote.Client, sess SessionSource, log zerolog.Logger) *Store[T] {
	return &Store[T]{
		schema:    schema,
		table:     client.Table(schema.Table),
		client:    client,
		session:   sess,
		log:       log.With().Str("component", "store").Str("table", schema.Table).Logger(),
		listeners: make(map[uint64]func()),
		baseCtx:   context.Background(),
	}
}

// Start follows the session: the store binds to the current user now and
// rebinds on every user change until Close.
func (s *Store[T]) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.unregister = s.session.OnUserChange(func(ctx context.Context, userID string) {
		s.bind(ctx, userID)
	})
	s.bind(ctx, s.session.UserID())
}

// Close tears down the realtime subscription and stops following the session.
func (s *Store[T]) Close() {
	if s.unregister != nil {
		s.unregister()
	}
	s.mu.Lock()
	s.gen++
	sub, cancel := s.sub, s.subCancel
	s.sub, s.subCancel = nil, nil
	s.mu.Unlock()

	closeSubscription(sub, cancel)
}

// bind switches the store to userID: anything in flight for the previous
// user is invalidated, state resets to empty, and for a signed-in user a new
// realtime subscription is opened and the initial load performed.
func (s *Store[T]) bind(ctx context.Context, userID string) {
	// The session may have moved on, or expired, since this change was sent.
	if cur := s.session.UserID(); cur != userID {
		s.log.Debug().Str("delivered", userID).Str("current", cur).Msg("Binding to current session user")
		userID = cur
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	oldSub, oldCancel := s.sub, s.subCancel
	s.sub, s.subCancel = nil, nil
	s.userID = userID
	s.items = nil
	s.loading = userID != ""
	base := s.baseCtx
	s.mu.Unlock()

	closeSubscription(oldSub, oldCancel)
	s.notify()

	if userID == "" {
		return
	}

	subCtx, cancel := context.WithCancel(base)
	sub, err := s.client.Subscribe(subCtx, s.schema.Table, remote.UserFilter(userID), func(ev remote.ChangeEvent) {
		s.log.Debug().Str("user_id", userID).Str("change", string(ev.Type)).Msg("Change received, reloading")
		s.Load(subCtx)
	})
	switch {
	case errors.Is(err, remote.ErrRealtimeUnsupported):
		s.log.Debug().Msg("Backend has no change feed, store is pull-only")
		cancel()
	case err != nil:
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Realtime subscription failed, store is pull-only")
		cancel()
	default:
		s.mu.Lock()
		if s.gen == gen {
			s.sub, s.subCancel = sub, cancel
			sub, cancel = nil, nil
		}
		s.mu.Unlock()
		// The session changed while subscribing.
		closeSubscription(sub, cancel)
	}

	s.Load(ctx)
}

func closeSubscription(sub remote.Subscription, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Close()
	}
}

// Load fetches every row of the current user and replaces the list. Errors
// are logged and leave the previous list in place.
func (s *Store[T]) Load(ctx context.Context) {
	s.mu.Lock()
	userID, gen := s.userID, s.gen
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	if userID == "" {
		return
	}

	items, err := s.fetch(ctx, userID)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.log.Debug().Str("user_id", userID).Msg("Discarding load for previous session")
		return
	}
	if seq < s.applied {
		s.mu.Unlock()
		s.log.Debug().Uint64("seq", seq).Uint64("applied", s.applied).Msg("Discarding out-of-order load")
		return
	}
	s.loading = false
	if err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load rows")
		s.notify()
		return
	}
	s.applied = seq
	s.items = items
	s.mu.Unlock()

	s.notify()
}

func (s *Store[T]) fetch(ctx context.Context, userID string) ([]T, error) {
	return fetchRows(ctx, s.schema, s.table, userID)
}

// Fetch reads every row of userID the way a store bound to that user would,
// without a session. Background jobs such as exports use it.
func Fetch[T any](ctx context.Context, schema Schema[T], client remote.Client, userID string) ([]T, error) {
	if userID == "" {
		return nil, fmt.Errorf("Fetch: %w", ErrUnauthenticated)
	}
	return fetchRows(ctx, schema, client.Table(schema.Table), userID)
}

func fetchRows[T any](ctx context.Context, schema Schema[T], table remote.Table, userID string) ([]T, error) {
	rows, err := table.Select(ctx, remote.Query{
		UserID:  userID,
		Order:   schema.Order,
		Filters: schema.Filters,
		Limit:   schema.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: selecting %s: %w", schema.Table, err)
	}

	items := make([]T, 0, len(rows))
	for _, row := range rows {
		item, err := schema.Decode(row)
		if err != nil {
			return nil, fmt.Errorf("fetch: decoding %s row %v: %w", schema.Table, row["id"], err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Create validates and writes a new row, then reloads. It returns the entity
// as written, including any generated id and defaults.
func (s *Store[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	userID, err := s.requireUser()
	if err != nil {
		return zero, err
	}

	if s.schema.Prepare != nil {
		item = s.schema.Prepare(item)
	}
	if s.schema.Validate != nil {
		if err := s.schema.Validate(item); err != nil {
			return zero, err
		}
	}
	row, err := s.schema.Encode(item)
	if err != nil {
		return zero, fmt.Errorf("Create: encoding %s: %w", s.schema.Table, err)
	}

	if err := s.table.Insert(ctx, userID, row); err != nil {
		return zero, fmt.Errorf("Create: inserting into %s: %w", s.schema.Table, err)
	}

	s.Load(ctx)
	return item, nil
}

// Update writes the fields carried by patch to row id, then reloads.
func (s *Store[T]) Update(ctx context.Context, id string, patch Patch) error {
	userID, err := s.requireUser()
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("Update: %w: id is required", ErrValidation)
	}

	fields, err := patch.Fields()
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if len(fields) > 0 {
		if err := s.table.Update(ctx, userID, id, fields); err != nil {
			return fmt.Errorf("Update: updating %s %s: %w", s.schema.Table, id, err)
		}
	}

	s.Load(ctx)
	return nil
}

// Delete removes row id of the current user, then reloads.
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	userID, err := s.requireUser()
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("Delete: %w: id is required", ErrValidation)
	}

	if err := s.table.Delete(ctx, userID, id); err != nil {
		return fmt.Errorf("Delete: deleting %s %s: %w", s.schema.Table, id, err)
	}

	s.Load(ctx)
	return nil
}

// Clear removes every row of the current user in one operation, then reloads.
func (s *Store[T]) Clear(ctx context.Context) error {
	userID, err := s.requireUser()
	if err != nil {
		return err
	}

	if err := s.table.DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("Clear: deleting %s: %w", s.schema.Table, err)
	}

	s.Load(ctx)
	return nil
}

func (s *Store[T]) requireUser() (string, error) {
	s.mu.RLock()
	userID := s.userID
	s.mu.RUnlock()

	if userID == "" {
		return "", ErrUnauthenticated
	}
	// An expired or replaced session must not keep writing as the bound user.
	if cur := s.session.UserID(); cur != userID {
		return "", fmt.Errorf("%w: session user %q, store bound to %q", ErrUnauthenticated, cur, userID)
	}
	return userID, nil
}

// Snapshot returns a copy of the current list.
func (s *Store[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Loading reports whether the first load for the current user is pending.
func (s *Store[T]) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// UserID returns the user the store is bound to.
func (s *Store[T]) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Table returns the remote table name.
func (s *Store[T]) Table() string {
	return s.schema.Table
}

// Find returns the entity with id.
func (s *Store[T]) Find(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if s.schema.ID(item) == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// OnChange registers fn to run after every state change (load applied,
// reset on session change). It returns a function that unregisters fn.
func (s *Store[T]) OnChange(fn func()) (cancel func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store[T]) notify() {
	s.listenersMu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
