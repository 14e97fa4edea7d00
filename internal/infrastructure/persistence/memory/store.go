// Package memory provides an in-process RecordStore used by tests, the
// local development server and dry runs of the promotion CLI.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

type document struct {
	id     string
	seq    int64
	fields map[string]any
}

type table struct {
	docs map[string]*document
}

// Store keeps documents per collection in memory. Fields are normalized
// through JSON on write, so readers see the same types a JSONB column
// would give back (numbers as float64, structs as maps).
type Store struct {
	mutex  sync.RWMutex
	tables map[shared.Collection]*table
	seq    int64
	clock  func() time.Time
	last   time.Time

	// UpdateHook, when set, runs before every Update and can fail it.
	UpdateHook func(collection shared.Collection, id string) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now as the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		tables: make(map[shared.Collection]*table),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table(c shared.Collection) *table {
	t, ok := s.tables[c]
	if !ok {
		t = &table{docs: make(map[string]*document)}
		s.tables[c] = t
	}
	return t
}

func normalize(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *document) record() shared.Record {
	// A second normalize gives the caller a deep copy.
	fields, _ := normalize(d.fields)
	return shared.Record{ID: d.id, Fields: fields}
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, collection shared.Collection, id string) (shared.Record, error) {
	if err := ctx.Err(); err != nil {
		return shared.Record{}, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	t, ok := s.tables[collection]
	if !ok {
		return shared.Record{}, notFound(collection, id)
	}
	d, ok := t.docs[id]
	if !ok {
		return shared.Record{}, notFound(collection, id)
	}
	return d.record(), nil
}

// Query returns matching documents in insertion order.
func (s *Store) Query(ctx context.Context, collection shared.Collection, filters ...shared.Filter) ([]shared.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]shared.Record, 0)
	t, ok := s.tables[collection]
	if !ok {
		return out, nil
	}

	matched := make([]*document, 0, len(t.docs))
	for _, d := range t.docs {
		if shared.Matches(d.fields, filters) {
			matched = append(matched, d)
		}
	}
	sortBySeq(matched)
	for _, d := range matched {
		out = append(out, d.record())
	}
	return out, nil
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, collection shared.Collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.UpdateHook != nil {
		if err := s.UpdateHook(collection, id); err != nil {
			return err
		}
	}
	patch, err := normalize(fields)
	if err != nil {
		return fmt.Errorf("memory: encode %s/%s: %w", collection, id, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tables[collection]
	if !ok {
		return notFound(collection, id)
	}
	d, ok := t.docs[id]
	if !ok {
		return notFound(collection, id)
	}
	for k, v := range patch {
		d.fields[k] = v
	}
	return nil
}

// Add stores a new document under a generated id.
func (s *Store) Add(ctx context.Context, collection shared.Collection, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.put(collection, uuid.NewString(), fields)
}

// Put stores a document under a caller-chosen id, replacing any existing one.
// Used for seeding.
func (s *Store) Put(collection shared.Collection, id string, fields map[string]any) error {
	_, err := s.put(collection, id, fields)
	return err
}

func (s *Store) put(collection shared.Collection, id string, fields map[string]any) (string, error) {
	doc, err := normalize(fields)
	if err != nil {
		return "", fmt.Errorf("memory: encode %s: %w", collection, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.seq++
	s.table(collection).docs[id] = &document{id: id, seq: s.seq, fields: doc}
	return id, nil
}

// Now returns the store clock, never earlier than a previous call.
func (s *Store) Now(context.Context) time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// Len returns the number of documents in a collection.
func (s *Store) Len(collection shared.Collection) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if t, ok := s.tables[collection]; ok {
		return len(t.docs)
	}
	return 0
}

func notFound(collection shared.Collection, id string) error {
	return shared.WrapError("memory", "Get", shared.ErrNotFound,
		fmt.Sprintf("%s/%s not found", collection, id), nil)
}

func sortBySeq(docs []*document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].seq < docs[j].seq })
}
