package sqlstore

import (
	"context"
	"errors"

	"github.com/goliatone/go-record-cache/repositorycache"
)

var _ repositorycache.SingleRepository[[]byte] = (*Single)(nil)

// singleKey is the record key of the lone row of a Single namespace.
const singleKey = "_"

// Single is a SingleRepository stored as one row of a Store.
type Single struct {
	store     *Store
	namespace string
}

// NewSingle returns the repository for namespace, e.g. "general".
func NewSingle(store *Store, namespace string) (*Single, error) {
	if store == nil || namespace == "" {
		return nil, errors.New("sqlstore: store and namespace are required")
	}
	return &Single{store: store, namespace: namespace}, nil
}

func (r *Single) Get(ctx context.Context) ([]byte, bool, error) {
	return r.store.get(ctx, r.namespace, singleKey)
}

func (r *Single) Save(ctx context.Context, data []byte) error {
	return r.store.upsert(ctx, r.namespace, singleKey, data)
}

func (r *Single) HasCache() bool { return false }

func (r *Single) ClearCache(context.Context) error { return nil }

func (r *Single) Shutdown(context.Context) error { return nil }
