package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	pfirestore "github.com/emart/api/internal/platform/firestore"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/repositories"
	"github.com/emart/api/internal/relations"
)

// maxInValues is the Firestore limit on values in a single "in" filter.
const maxInValues = 30

const countAlias = "count"

// Store is the Firestore backend. Leading equality matches are evaluated by Firestore; the rest of a
// pipeline runs in process over the narrowed result set.
type Store struct {
	provider *pfirestore.Provider
	unique   map[string][]string

	mu     sync.RWMutex
	lookup query.Lookup
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

// NewStore constructs a Firestore backed store.
func NewStore(provider *pfirestore.Provider, opts ...Option) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires firestore provider")
	}
	s := &Store{provider: provider, unique: repositories.UniqueFields}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// UseLookup routes join stages through lookup, typically a caching relations.Resolver.
func (s *Store) UseLookup(lookup query.Lookup) {
	s.mu.Lock()
	s.lookup = lookup
	s.mu.Unlock()
}

// RunInTx runs fn inside a Firestore transaction. Firestore requires every read of a transaction to
// happen before its first write.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore store: transaction function is required")
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

// Get fetches a single document.
func (s *Store) Get(ctx context.Context, collection, id string) (query.Document, error) {
	ref, err := s.docRef(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	var snap *firestore.DocumentSnapshot
	if tx := pfirestore.TransactionFromContext(ctx); tx != nil {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return nil, pfirestore.WrapError(op(collection, "get"), err)
	}
	doc := pfirestore.DecodeSnapshot(snap)
	if doc == nil {
		return nil, repositories.NewNotFoundError(op(collection, "get"), collection, id)
	}
	return doc, nil
}

// Insert creates a document, failing when the id or a unique field value is taken.
func (s *Store) Insert(ctx context.Context, collection string, doc query.Document) error {
	ref, err := s.docRef(ctx, collection, doc.ID())
	if err != nil {
		return err
	}
	return s.write(ctx, collection, "insert", doc, func(tx *firestore.Transaction) error {
		return tx.Create(ref, pfirestore.EncodeDocument(doc))
	})
}

// Replace overwrites an existing document. Outside a transaction the existence check and the write
// run in one transaction; inside one, callers are expected to have read the document already.
func (s *Store) Replace(ctx context.Context, collection string, doc query.Document) error {
	ref, err := s.docRef(ctx, collection, doc.ID())
	if err != nil {
		return err
	}
	if pfirestore.TransactionFromContext(ctx) == nil {
		return s.RunInTx(ctx, func(txCtx context.Context) error {
			if _, err := s.Get(txCtx, collection, doc.ID()); err != nil {
				return err
			}
			return s.Replace(txCtx, collection, doc)
		})
	}
	return s.write(ctx, collection, "replace", doc, func(tx *firestore.Transaction) error {
		return tx.Set(ref, pfirestore.EncodeDocument(doc))
	})
}

// Delete removes an existing document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	ref, err := s.docRef(ctx, collection, id)
	if err != nil {
		return err
	}
	if tx := pfirestore.TransactionFromContext(ctx); tx != nil {
		err = tx.Delete(ref, firestore.Exists)
	} else {
		_, err = ref.Delete(ctx, firestore.Exists)
	}
	return pfirestore.WrapError(op(collection, "delete"), err)
}

// Increment adds deltas with Firestore's server-side increment transform.
func (s *Store) Increment(ctx context.Context, collection, id string, deltas map[string]decimal.Decimal) error {
	ref, err := s.docRef(ctx, collection, id)
	if err != nil {
		return err
	}
	updates := make([]firestore.Update, 0, len(deltas))
	for field, delta := range deltas {
		updates = append(updates, firestore.Update{Path: field, Value: firestore.Increment(delta.InexactFloat64())})
	}
	if len(updates) == 0 {
		_, err := s.Get(ctx, collection, id)
		return err
	}
	if tx := pfirestore.TransactionFromContext(ctx); tx != nil {
		err = tx.Update(ref, updates)
	} else {
		_, err = ref.Update(ctx, updates)
	}
	return pfirestore.WrapError(op(collection, "increment"), err)
}

// Aggregate pushes the leading equality matches into a Firestore query and evaluates the remaining
// stages in process. A pipeline reduced to a single count uses an aggregation query.
func (s *Store) Aggregate(ctx context.Context, collection string, stages []query.Stage) ([]query.Document, error) {
	coll, err := s.provider.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	filters, rest := SplitPushdown(stages)
	q := coll.Query
	for _, filter := range filters {
		q = filter.apply(q)
	}

	if len(rest) == 1 && pfirestore.TransactionFromContext(ctx) == nil {
		if countStage, ok := rest[0].(query.Count); ok {
			return s.count(ctx, collection, q, countStage)
		}
	}

	docs, err := s.documents(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	return query.Run(ctx, docs, rest, s.currentLookup())
}

func (s *Store) count(ctx context.Context, collection string, q firestore.Query, stage query.Count) ([]query.Document, error) {
	result, err := q.NewAggregationQuery().WithCount(countAlias).Get(ctx)
	if err != nil {
		return nil, pfirestore.WrapError(op(collection, "count"), err)
	}
	var n int64
	switch v := result[countAlias].(type) {
	case *firestorepb.Value:
		n = v.GetIntegerValue()
	case int64:
		n = v
	}
	if n == 0 {
		return nil, nil
	}
	as := stage.As
	if as == "" {
		as = query.DefaultCountField
	}
	return []query.Document{{as: n}}, nil
}

// LoadBy batches lookups: ids through GetAll, other fields through chunked "in" queries.
func (s *Store) LoadBy(ctx context.Context, collection, field string, keys []string) ([]query.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	coll, err := s.provider.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if field == "" || field == query.IDField {
		return s.getAll(ctx, collection, coll, keys)
	}

	var out []query.Document
	for start := 0; start < len(keys); start += maxInValues {
		end := min(start+maxInValues, len(keys))
		values := make([]any, 0, end-start)
		for _, key := range keys[start:end] {
			values = append(values, key)
		}
		docs, err := s.documents(ctx, collection, coll.Where(field, "in", values))
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

func (s *Store) getAll(ctx context.Context, collection string, coll *firestore.CollectionRef, ids []string) ([]query.Document, error) {
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			refs = append(refs, coll.Doc(id))
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}
	var (
		snaps []*firestore.DocumentSnapshot
		err   error
	)
	if tx := pfirestore.TransactionFromContext(ctx); tx != nil {
		snaps, err = tx.GetAll(refs)
	} else {
		client, clientErr := s.provider.Client(ctx)
		if clientErr != nil {
			return nil, clientErr
		}
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, pfirestore.WrapError(op(collection, "get_all"), err)
	}
	out := make([]query.Document, 0, len(snaps))
	for _, snap := range snaps {
		if doc := pfirestore.DecodeSnapshot(snap); doc != nil {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Ping verifies Firestore connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.provider.Ping(ctx)
}

// Close releases the Firestore client.
func (s *Store) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

func (s *Store) documents(ctx context.Context, collection string, q firestore.Query) ([]query.Document, error) {
	var iter *firestore.DocumentIterator
	if tx := pfirestore.TransactionFromContext(ctx); tx != nil {
		iter = tx.Documents(q)
	} else {
		iter = q.Documents(ctx)
	}
	defer iter.Stop()

	var docs []query.Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError(op(collection, "query"), err)
		}
		if doc := pfirestore.DecodeSnapshot(snap); doc != nil {
			docs = append(docs, doc)
		}
	}
}

// write runs mutate in the caller's transaction, or in a new one, after checking unique fields.
func (s *Store) write(ctx context.Context, collection, action string, doc query.Document, mutate func(tx *firestore.Transaction) error) error {
	tx := pfirestore.TransactionFromContext(ctx)
	if tx == nil {
		return s.RunInTx(ctx, func(txCtx context.Context) error {
			return s.write(txCtx, collection, action, doc, mutate)
		})
	}
	if err := s.checkUnique(ctx, collection, doc); err != nil {
		return err
	}
	return pfirestore.WrapError(op(collection, action), mutate(tx))
}

func (s *Store) checkUnique(ctx context.Context, collection string, doc query.Document) error {
	fields := s.unique[collection]
	if len(fields) == 0 {
		return nil
	}
	coll, err := s.provider.Collection(ctx, collection)
	if err != nil {
		return err
	}
	for _, field := range fields {
		value, ok := doc[field]
		if !ok || value == nil || value == "" {
			continue
		}
		existing, err := s.documents(ctx, collection, coll.Where(field, "==", pfirestore.EncodeValue(value)).Limit(2))
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.ID() != doc.ID() {
				return repositories.NewConflictError(op(collection, "unique"), fmt.Errorf("%s %q already used by %s", field, value, other.ID()))
			}
		}
	}
	return nil
}

func (s *Store) docRef(ctx context.Context, collection, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pfirestore.WrapError(op(collection, "document"), errors.New("firestore: document id is required"))
	}
	coll, err := s.provider.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (s *Store) currentLookup() query.Lookup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lookup != nil {
		return s.lookup
	}
	return repositories.LoaderLookup{Loader: s}
}

func op(collection, action string) string {
	return fmt.Sprintf("%s.%s", collection, action)
}
