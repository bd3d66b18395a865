package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/goliatone/go-record-cache/query"
	"github.com/goliatone/go-record-cache/repositorycache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

var _ repositorycache.KeyedRepository[uuid.UUID, query.Keyed[uuid.UUID], []byte] = (*Keyed[uuid.UUID])(nil)

// attributes are spliced into a JSON path, so only plain field names pass.
var attrPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidAttribute is returned for attribute names that are not plain
// identifiers.
var ErrInvalidAttribute = errors.New("sqlstore: invalid attribute name")

// Keyed is a KeyedRepository over one namespace of a Store. It supports
// attribute queries on top-level JSON fields.
type Keyed[K comparable] struct {
	store     *Store
	namespace string
	codec     KeyCodec[K]
}

// NewKeyed returns the repository for namespace.
func NewKeyed[K comparable](store *Store, namespace string, codec KeyCodec[K]) (*Keyed[K], error) {
	if store == nil || codec == nil {
		return nil, errors.New("sqlstore: store and codec are required")
	}
	if namespace == "" {
		return nil, errors.New("sqlstore: namespace is required")
	}
	return &Keyed[K]{store: store, namespace: namespace, codec: codec}, nil
}

func (r *Keyed[K]) Get(ctx context.Context, key K) ([]byte, bool, error) {
	return r.store.get(ctx, r.namespace, r.codec.Encode(key))
}

func (r *Keyed[K]) GetQuery(ctx context.Context, q query.Keyed[K]) (repositorycache.KeyedObject[K, []byte], bool, error) {
	criteria, err := r.criteria(q)
	if err != nil {
		return repositorycache.KeyedObject[K, []byte]{}, false, err
	}
	rows, _, err := r.store.records.List(ctx, append(criteria, firstRow())...)
	if err != nil {
		return repositorycache.KeyedObject[K, []byte]{}, false, err
	}
	if len(rows) == 0 {
		return repositorycache.KeyedObject[K, []byte]{}, false, nil
	}
	key, err := r.codec.Decode(rows[0].Key)
	if err != nil {
		return repositorycache.KeyedObject[K, []byte]{}, false, fmt.Errorf("sqlstore: decode key %q: %w", rows[0].Key, err)
	}
	return repositorycache.KeyedObject[K, []byte]{Key: key, Value: []byte(rows[0].Data)}, true, nil
}

func (r *Keyed[K]) GetAll(ctx context.Context, q query.Keyed[K]) (map[K][]byte, error) {
	criteria, err := r.criteria(q)
	if err != nil {
		return nil, err
	}
	rows, _, err := r.store.records.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}

	out := make(map[K][]byte, len(rows))
	for _, row := range rows {
		key, err := r.codec.Decode(row.Key)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: decode key %q: %w", row.Key, err)
		}
		out[key] = []byte(row.Data)
	}
	return out, nil
}

func (r *Keyed[K]) Exists(ctx context.Context, key K) (bool, error) {
	n, err := r.store.records.Count(ctx, inNamespace(r.namespace), withKeys(r.codec.Encode(key)))
	return n > 0, err
}

func (r *Keyed[K]) Count(ctx context.Context, q query.Keyed[K]) (int, error) {
	criteria, err := r.criteria(q)
	if err != nil {
		return 0, err
	}
	return r.store.records.Count(ctx, criteria...)
}

func (r *Keyed[K]) Save(ctx context.Context, key K, data []byte) error {
	return r.store.upsert(ctx, r.namespace, r.codec.Encode(key), data)
}

func (r *Keyed[K]) Delete(ctx context.Context, key K) error {
	return r.store.delete(ctx, r.namespace, r.codec.Encode(key))
}

// ClearCache is a no-op; SQLite does its own page caching.
func (r *Keyed[K]) ClearCache(context.Context) error { return nil }

// Shutdown leaves the Store open; its owner closes it.
func (r *Keyed[K]) Shutdown(context.Context) error { return nil }

func (r *Keyed[K]) SupportsNonPrimaryKeyQueries() bool { return true }

// criteria translates q into repository select criteria scoped to the
// namespace.
func (r *Keyed[K]) criteria(q query.Keyed[K]) ([]repository.SelectCriteria, error) {
	criteria := []repository.SelectCriteria{inNamespace(r.namespace)}

	if keys := q.Keys(); len(keys) > 0 {
		encoded := make([]string, len(keys))
		for i, key := range keys {
			encoded[i] = r.codec.Encode(key)
		}
		criteria = append(criteria, withKeys(encoded...))
	}

	for attr, value := range q.Attributes() {
		if !attrPattern.MatchString(attr) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAttribute, attr)
		}
		arg, err := sqlValue(value)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: attribute %s: %w", attr, err)
		}
		criteria = append(criteria, withAttribute("$."+attr, arg))
	}
	return criteria, nil
}

// sqlValue maps a filter value to what json_extract yields for it: booleans
// become 0 or 1, scalars pass through, composite values compare as JSON text.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, errors.New("null filters are not supported")
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, float32, float64:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
}
