package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/relations"
	"github.com/emart/api/internal/repositories"
)

// Store is an in-process backend. Documents keep insertion order, which is also the tie-break order
// of sorts. Stored maps are never mutated in place, so readers can evaluate pipelines without
// holding the lock.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	unique      map[string][]string
	lookup      query.Lookup

	txMu sync.Mutex
}

type collection struct {
	docs  map[string]query.Document
	order []string
}

var (
	_ repositories.Backend = (*Store)(nil)
	_ relations.Loader     = (*Store)(nil)
)

// Option customises Store construction.
type Option func(*Store)

// WithUniqueFields overrides the unique field set per collection.
func WithUniqueFields(fields map[string][]string) Option {
	return func(s *Store) {
		s.unique = fields
	}
}

// NewStore returns an empty store enforcing repositories.UniqueFields.
func NewStore(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]*collection),
		unique:      repositories.UniqueFields,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type txKey struct{}

type txLog struct {
	undo []func()
}

func txFromContext(ctx context.Context) *txLog {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(*txLog)
	return tx
}

// RunInTx serialises transactional callers and rolls back their writes when fn fails. Nested calls
// join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is required")
	}
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txLog{}
	err := fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
	}
	return err
}

// Get returns a copy of the document.
func (s *Store) Get(_ context.Context, name, id string) (query.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.collections[name]
	if coll == nil {
		return nil, repositories.NewNotFoundError(name+".get", name, id)
	}
	doc, ok := coll.docs[id]
	if !ok {
		return nil, repositories.NewNotFoundError(name+".get", name, id)
	}
	return doc.Clone(), nil
}

// Insert stores a new document, rejecting duplicate ids and unique field values.
func (s *Store) Insert(ctx context.Context, name string, doc query.Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("memory: %s insert requires %s", name, query.IDField)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collection(name)
	if _, exists := coll.docs[id]; exists {
		return repositories.NewConflictError(name+".insert", fmt.Errorf("%s/%s already exists", name, id))
	}
	if err := s.checkUnique(name, coll, doc); err != nil {
		return err
	}
	coll.docs[id] = doc.Clone()
	coll.order = append(coll.order, id)

	s.record(ctx, func() {
		delete(coll.docs, id)
		coll.order = removeID(coll.order, id)
	})
	return nil
}

// Replace overwrites an existing document.
func (s *Store) Replace(ctx context.Context, name string, doc query.Document) error {
	id := doc.ID()
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[name]
	if coll == nil {
		return repositories.NewNotFoundError(name+".replace", name, id)
	}
	previous, ok := coll.docs[id]
	if !ok {
		return repositories.NewNotFoundError(name+".replace", name, id)
	}
	if err := s.checkUnique(name, coll, doc); err != nil {
		return err
	}
	coll.docs[id] = doc.Clone()
	s.record(ctx, func() { coll.docs[id] = previous })
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[name]
	if coll == nil {
		return repositories.NewNotFoundError(name+".delete", name, id)
	}
	previous, ok := coll.docs[id]
	if !ok {
		return repositories.NewNotFoundError(name+".delete", name, id)
	}
	position := indexOf(coll.order, id)
	delete(coll.docs, id)
	coll.order = removeID(coll.order, id)

	s.record(ctx, func() {
		coll.docs[id] = previous
		coll.order = insertAt(coll.order, position, id)
	})
	return nil
}

// Increment adds each delta to the named numeric field under the write lock.
func (s *Store) Increment(ctx context.Context, name, id string, deltas map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[name]
	if coll == nil {
		return repositories.NewNotFoundError(name+".increment", name, id)
	}
	previous, ok := coll.docs[id]
	if !ok {
		return repositories.NewNotFoundError(name+".increment", name, id)
	}
	next := previous.Clone()
	for field, delta := range deltas {
		current, _ := query.AsDecimal(next[field])
		next[field] = current.Add(delta)
	}
	coll.docs[id] = next
	s.record(ctx, func() { coll.docs[id] = previous })
	return nil
}

// UseLookup routes join stages through lookup, typically a caching relations.Resolver. By default
// joins read the store directly.
func (s *Store) UseLookup(lookup query.Lookup) {
	s.mu.Lock()
	s.lookup = lookup
	s.mu.Unlock()
}

// Aggregate evaluates stages over a snapshot of the collection.
func (s *Store) Aggregate(ctx context.Context, name string, stages []query.Stage) ([]query.Document, error) {
	s.mu.RLock()
	var lookup query.Lookup = repositories.LoaderLookup{Loader: s}
	if s.lookup != nil {
		lookup = s.lookup
	}
	s.mu.RUnlock()

	docs, err := query.Run(ctx, s.snapshot(name), stages, lookup)
	if err != nil {
		return nil, err
	}
	out := make([]query.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out, nil
}

// LoadBy returns copies of the documents whose field matches one of keys.
func (s *Store) LoadBy(_ context.Context, name, field string, keys []string) ([]query.Document, error) {
	wanted := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
	}
	var out []query.Document
	for _, doc := range s.snapshot(name) {
		value, ok := doc.Get(field)
		if !ok {
			continue
		}
		key, ok := query.AsString(value)
		if !ok {
			continue
		}
		if _, ok := wanted[key]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) snapshot(name string) []query.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.collections[name]
	if coll == nil {
		return nil
	}
	docs := make([]query.Document, 0, len(coll.order))
	for _, id := range coll.order {
		docs = append(docs, coll.docs[id])
	}
	return docs
}

func (s *Store) collection(name string) *collection {
	coll := s.collections[name]
	if coll == nil {
		coll = &collection{docs: make(map[string]query.Document)}
		s.collections[name] = coll
	}
	return coll
}

func (s *Store) checkUnique(name string, coll *collection, doc query.Document) error {
	for _, field := range s.unique[name] {
		value, ok := doc[field]
		if !ok || value == nil || value == "" {
			continue
		}
		for id, existing := range coll.docs {
			if id == doc.ID() {
				continue
			}
			if query.Equal(existing[field], value) {
				return repositories.NewConflictError(name+".unique", fmt.Errorf("%s %q already used by %s", field, value, id))
			}
		}
	}
	return nil
}

// record must be called with s.mu held.
func (s *Store) record(ctx context.Context, undo func()) {
	if tx := txFromContext(ctx); tx != nil {
		tx.undo = append(tx.undo, undo)
	}
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func removeID(ids []string, id string) []string {
	if i := indexOf(ids, id); i >= 0 {
		return append(ids[:i:i], ids[i+1:]...)
	}
	return ids
}

func insertAt(ids []string, position int, id string) []string {
	if position < 0 || position > len(ids) {
		return append(ids, id)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:position]...)
	out = append(out, id)
	return append(out, ids[position:]...)
}
