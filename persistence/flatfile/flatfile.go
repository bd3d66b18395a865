// Package flatfile stores records as JSON files on disk.
//
// Keyed records live at <root>/<dir>/<first two characters of key>/<key>.json.
// The backend only does point lookups, so record services reject attribute
// queries before they reach it.
package flatfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fluxcd/pkg/lockedfile"
	"github.com/goliatone/go-record-cache/internal/logging"
	"github.com/goliatone/go-record-cache/query"
	"github.com/goliatone/go-record-cache/repositorycache"
	"github.com/google/uuid"
)

// GeneralFile is the file name used for server-wide settings.
const GeneralFile = "general.json"

const (
	fileExt  = ".json"
	lockName = ".lock"
)

var _ repositorycache.KeyedRepository[uuid.UUID, query.Keyed[uuid.UUID], []byte] = (*Keyed)(nil)

// Keyed is a KeyedRepository keyed by UUID.
// Writes take a file lock on the directory, so several processes may share it.
type Keyed struct {
	base   string
	lock   *lockedfile.Mutex
	logger *slog.Logger
}

// Option configures a flat-file repository.
type Option func(*settings)

type settings struct {
	logger *slog.Logger
}

// WithLogger sets the repository logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func buildSettings(opts []Option) settings {
	s := settings{}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// NewKeyed returns a repository storing records under root/dir.
func NewKeyed(root, dir string, opts ...Option) (*Keyed, error) {
	if root == "" || dir == "" {
		return nil, errors.New("flatfile: root and dir are required")
	}
	base := filepath.Join(root, dir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("flatfile: create %s: %w", base, err)
	}
	s := buildSettings(opts)
	return &Keyed{
		base:   base,
		lock:   lockedfile.MutexAt(filepath.Join(base, lockName)),
		logger: s.logger.With(slog.String("dir", dir)),
	}, nil
}

// Path returns the file that holds key.
func (r *Keyed) Path(key uuid.UUID) string {
	name := key.String()
	return filepath.Join(r.base, name[:2], name+fileExt)
}

func (r *Keyed) Get(_ context.Context, key uuid.UUID) ([]byte, bool, error) {
	return readFile(r.Path(key))
}

// GetQuery returns the first stored record among the query keys.
func (r *Keyed) GetQuery(ctx context.Context, q query.Keyed[uuid.UUID]) (repositorycache.KeyedObject[uuid.UUID, []byte], bool, error) {
	if err := requireKeys(q); err != nil {
		return repositorycache.KeyedObject[uuid.UUID, []byte]{}, false, err
	}
	for _, key := range q.Keys() {
		data, ok, err := r.Get(ctx, key)
		if err != nil {
			return repositorycache.KeyedObject[uuid.UUID, []byte]{}, false, err
		}
		if ok {
			return repositorycache.KeyedObject[uuid.UUID, []byte]{Key: key, Value: data}, true, nil
		}
	}
	return repositorycache.KeyedObject[uuid.UUID, []byte]{}, false, nil
}

func (r *Keyed) GetAll(ctx context.Context, q query.Keyed[uuid.UUID]) (map[uuid.UUID][]byte, error) {
	if err := requireKeys(q); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]byte)
	for _, key := range q.Keys() {
		data, ok, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = data
		}
	}
	return out, nil
}

func (r *Keyed) Exists(_ context.Context, key uuid.UUID) (bool, error) {
	_, err := os.Stat(r.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (r *Keyed) Count(ctx context.Context, q query.Keyed[uuid.UUID]) (int, error) {
	if err := requireKeys(q); err != nil {
		return 0, err
	}
	n := 0
	for _, key := range q.Keys() {
		ok, err := r.Exists(ctx, key)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (r *Keyed) Save(_ context.Context, key uuid.UUID, data []byte) error {
	unlock, err := r.lock.Lock()
	if err != nil {
		return err
	}
	defer unlock()
	return writeFile(r.Path(key), data)
}

func (r *Keyed) Delete(_ context.Context, key uuid.UUID) error {
	unlock, err := r.lock.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	err = os.Remove(r.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// AllKeys lists every stored key. Files whose name is not a UUID are skipped.
func (r *Keyed) AllKeys(ctx context.Context) ([]uuid.UUID, error) {
	var keys []uuid.UUID
	err := filepath.WalkDir(r.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileExt) {
			return nil
		}
		key, perr := uuid.Parse(strings.TrimSuffix(d.Name(), fileExt))
		if perr != nil {
			logging.FromContext(ctx, r.logger).Warn("skipping unexpected file", slog.String("path", path))
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	return keys, err
}

// ClearCache is a no-op; the backend keeps no cache.
func (r *Keyed) ClearCache(context.Context) error { return nil }

func (r *Keyed) Shutdown(context.Context) error { return nil }

func (r *Keyed) SupportsNonPrimaryKeyQueries() bool { return false }

var _ repositorycache.SingleRepository[[]byte] = (*Single)(nil)

// Single is a SingleRepository backed by one file.
type Single struct {
	path string
	lock *lockedfile.Mutex
}

// NewSingle returns a repository for the file root/name, e.g. GeneralFile.
func NewSingle(root, name string) (*Single, error) {
	if root == "" || name == "" {
		return nil, errors.New("flatfile: root and name are required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("flatfile: create %s: %w", root, err)
	}
	path := filepath.Join(root, name)
	return &Single{path: path, lock: lockedfile.MutexAt(path + lockName)}, nil
}

// Path returns the backing file.
func (r *Single) Path() string { return r.path }

func (r *Single) Get(context.Context) ([]byte, bool, error) {
	return readFile(r.path)
}

func (r *Single) Save(_ context.Context, data []byte) error {
	unlock, err := r.lock.Lock()
	if err != nil {
		return err
	}
	defer unlock()
	return writeFile(r.path, data)
}

func (r *Single) HasCache() bool { return false }

func (r *Single) ClearCache(context.Context) error { return nil }

func (r *Single) Shutdown(context.Context) error { return nil }

func requireKeys(q query.Keyed[uuid.UUID]) error {
	if q.RestrictedToKeys() {
		return nil
	}
	return fmt.Errorf("flatfile: %w", repositorycache.ErrUnsupportedQuery)
}

func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// writeFile replaces path atomically so a crash never leaves a torn record.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
