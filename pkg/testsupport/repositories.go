package testsupport

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/goliatone/go-record-cache/query"
	"github.com/goliatone/go-record-cache/repositorycache"
)

// Operation names used by the counting fakes.
const (
	OpGet        = "Get"
	OpGetQuery   = "GetQuery"
	OpGetAll     = "GetAll"
	OpExists     = "Exists"
	OpCount      = "Count"
	OpSave       = "Save"
	OpDelete     = "Delete"
	OpClearCache = "ClearCache"
	OpShutdown   = "Shutdown"
)

// ErrInjected is a convenient error for failure injection.
var ErrInjected = errors.New("testsupport: injected failure")

// calls counts operations and holds injected failures.
type calls struct {
	mu       sync.Mutex
	counts   map[string]int
	failures map[string]error
}

func newCalls() calls {
	return calls{counts: map[string]int{}, failures: map[string]error{}}
}

// record counts op and returns the failure injected for it, if any.
// The caller must hold mu.
func (c *calls) record(op string) error {
	c.counts[op]++
	return c.failures[op]
}

// CountingRepository is an in-memory KeyedRepository over JSON wire bytes that
// counts every call. Attribute filters are matched against the top-level
// fields of the stored JSON.
type CountingRepository[K comparable] struct {
	calls
	records    map[K][]byte
	nonPrimary bool
	delay      time.Duration
	queryDelay time.Duration
}

var _ repositorycache.KeyedRepository[string, query.Keyed[string], []byte] = (*CountingRepository[string])(nil)

// NewCountingRepository returns an empty repository. nonPrimaryKeyQueries sets
// the capability the repository reports.
func NewCountingRepository[K comparable](nonPrimaryKeyQueries bool) *CountingRepository[K] {
	return &CountingRepository[K]{
		calls:      newCalls(),
		records:    map[K][]byte{},
		nonPrimary: nonPrimaryKeyQueries,
	}
}

// Put stores data without counting a call.
func (r *CountingRepository[K]) Put(key K, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[key] = append([]byte(nil), data...)
}

// PutJSON marshals v and stores it without counting a call.
func (r *CountingRepository[K]) PutJSON(key K, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Put(key, data)
	return nil
}

// Stored returns the persisted bytes for key.
func (r *CountingRepository[K]) Stored(key K) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.records[key]
	return append([]byte(nil), data...), ok
}

// Len returns the number of persisted records.
func (r *CountingRepository[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Calls returns how many times op was invoked.
func (r *CountingRepository[K]) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[op]
}

// FailOn makes op return err until it is called again with a nil error.
func (r *CountingRepository[K]) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// SetDelay makes Get and Save sleep before answering.
func (r *CountingRepository[K]) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// SetQueryDelay makes GetQuery and GetAll sleep after reading, so their
// results describe the store as it was before the delay.
func (r *CountingRepository[K]) SetQueryDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryDelay = d
}

func (r *CountingRepository[K]) pause() {
	r.mu.Lock()
	d := r.delay
	r.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (r *CountingRepository[K]) Get(_ context.Context, key K) ([]byte, bool, error) {
	r.pause()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpGet); err != nil {
		return nil, false, err
	}
	data, ok := r.records[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (r *CountingRepository[K]) GetQuery(_ context.Context, q query.Keyed[K]) (repositorycache.KeyedObject[K, []byte], bool, error) {
	matches, err := r.query(OpGetQuery, q)
	if err != nil {
		return repositorycache.KeyedObject[K, []byte]{}, false, err
	}
	for key, data := range matches {
		return repositorycache.KeyedObject[K, []byte]{Key: key, Value: data}, true, nil
	}
	return repositorycache.KeyedObject[K, []byte]{}, false, nil
}

func (r *CountingRepository[K]) GetAll(_ context.Context, q query.Keyed[K]) (map[K][]byte, error) {
	return r.query(OpGetAll, q)
}

// query matches q under the lock, then waits out the query delay.
func (r *CountingRepository[K]) query(op string, q query.Keyed[K]) (map[K][]byte, error) {
	r.mu.Lock()
	if err := r.record(op); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	matches, err := r.match(q)
	d := r.queryDelay
	r.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	return matches, err
}

func (r *CountingRepository[K]) Exists(_ context.Context, key K) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpExists); err != nil {
		return false, err
	}
	_, ok := r.records[key]
	return ok, nil
}

func (r *CountingRepository[K]) Count(_ context.Context, q query.Keyed[K]) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpCount); err != nil {
		return 0, err
	}
	matches, err := r.match(q)
	return len(matches), err
}

func (r *CountingRepository[K]) Save(_ context.Context, key K, data []byte) error {
	r.pause()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpSave); err != nil {
		return err
	}
	r.records[key] = append([]byte(nil), data...)
	return nil
}

func (r *CountingRepository[K]) Delete(_ context.Context, key K) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpDelete); err != nil {
		return err
	}
	delete(r.records, key)
	return nil
}

func (r *CountingRepository[K]) ClearCache(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record(OpClearCache)
}

func (r *CountingRepository[K]) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record(OpShutdown)
}

func (r *CountingRepository[K]) SupportsNonPrimaryKeyQueries() bool {
	return r.nonPrimary
}

// match must be called with mu held.
func (r *CountingRepository[K]) match(q query.Keyed[K]) (map[K][]byte, error) {
	candidates := r.records
	if keys := q.Keys(); len(keys) > 0 {
		candidates = make(map[K][]byte, len(keys))
		for _, key := range keys {
			if data, ok := r.records[key]; ok {
				candidates[key] = data
			}
		}
	}

	attrs := q.Attributes()
	out := make(map[K][]byte, len(candidates))
	for key, data := range candidates {
		ok, err := MatchAttributes(data, attrs)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = append([]byte(nil), data...)
		}
	}
	return out, nil
}

// MatchAttributes reports whether the JSON object in data has every attribute
// in attrs. Values are compared after a JSON round trip, so 3 matches 3.0.
func MatchAttributes(data []byte, attrs map[string]any) (bool, error) {
	if len(attrs) == 0 {
		return true, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, err
	}
	for attr, want := range attrs {
		normalized, err := normalize(want)
		if err != nil {
			return false, err
		}
		if !reflect.DeepEqual(fields[attr], normalized) {
			return false, nil
		}
	}
	return true, nil
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

// MemorySingleRepository is an in-memory SingleRepository that counts calls.
type MemorySingleRepository struct {
	calls
	data     []byte
	present  bool
	hasCache bool
}

var _ repositorycache.SingleRepository[[]byte] = (*MemorySingleRepository)(nil)

// NewMemorySingleRepository returns an empty repository. hasCache sets what
// HasCache reports.
func NewMemorySingleRepository(hasCache bool) *MemorySingleRepository {
	return &MemorySingleRepository{calls: newCalls(), hasCache: hasCache}
}

// Put stores data without counting a call.
func (r *MemorySingleRepository) Put(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data, r.present = append([]byte(nil), data...), true
}

// Stored returns the persisted bytes.
func (r *MemorySingleRepository) Stored() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...), r.present
}

// Calls returns how many times op was invoked.
func (r *MemorySingleRepository) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[op]
}

// FailOn makes op return err until it is called again with a nil error.
func (r *MemorySingleRepository) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

func (r *MemorySingleRepository) Get(context.Context) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpGet); err != nil {
		return nil, false, err
	}
	if !r.present {
		return nil, false, nil
	}
	return append([]byte(nil), r.data...), true, nil
}

func (r *MemorySingleRepository) Save(_ context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpSave); err != nil {
		return err
	}
	r.data, r.present = append([]byte(nil), data...), true
	return nil
}

func (r *MemorySingleRepository) HasCache() bool {
	return r.hasCache
}

func (r *MemorySingleRepository) ClearCache(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record(OpClearCache)
}

func (r *MemorySingleRepository) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record(OpShutdown)
}
