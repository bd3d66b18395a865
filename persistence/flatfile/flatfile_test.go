package flatfile

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/goliatone/go-record-cache/internal/logging"
	"github.com/goliatone/go-record-cache/pkg/testsupport"
	"github.com/goliatone/go-record-cache/query"
	"github.com/goliatone/go-record-cache/repositorycache"
	"github.com/goliatone/go-record-cache/translator"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type player struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Level   int    `json:"level"`
}

func newPlayer() *player { return &player{Version: 1} }

func newTestKeyed(t *testing.T) (*Keyed, string) {
	t.Helper()
	root := t.TempDir()
	repo, err := NewKeyed(root, "players", WithLogger(logging.Discard()))
	require.NoError(t, err)
	return repo, root
}

func TestKeyed_PathLayout(t *testing.T) {
	repo, root := newTestKeyed(t)
	key := uuid.MustParse("ab3f0c52-8f4e-4b61-9d2a-5f0e3c1d7a90")

	assert.Equal(t,
		filepath.Join(root, "players", "ab", "ab3f0c52-8f4e-4b61-9d2a-5f0e3c1d7a90.json"),
		repo.Path(key),
	)
}

func TestKeyed_ReadsSeededFile(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestKeyed(t)
	key := uuid.New()
	testsupport.SeedFile(t, testsupport.FixturePath("player.json"), repo.Path(key))

	data, ok, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"version":1,"name":"ann","level":5}`, string(data))

	exists, err := repo.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestKeyed_MissingKey(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestKeyed(t)

	_, ok, err := repo.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := repo.Exists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, repo.Delete(ctx, uuid.New()), "deleting a missing key is not an error")
}

func TestKeyed_SaveReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestKeyed(t)
	key := uuid.New()

	require.NoError(t, repo.Save(ctx, key, []byte(`{"version":1}`)))
	require.NoError(t, repo.Save(ctx, key, []byte(`{"version":2}`)))

	data, ok, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"version":2}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(repo.Path(key)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestKeyed_KeyQueries(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestKeyed(t)
	a, b, missing := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, repo.Save(ctx, a, []byte(`{"name":"a"}`)))
	require.NoError(t, repo.Save(ctx, b, []byte(`{"name":"b"}`)))

	all, err := repo.GetAll(ctx, query.ByKeys(a, b, missing))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := repo.Count(ctx, query.ByKeys(a, missing))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	obj, ok, err := repo.GetQuery(ctx, query.ByKeys(missing, b))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b, obj.Key)
}

func TestKeyed_RejectsAttributeQueries(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestKeyed(t)

	assert.False(t, repo.SupportsNonPrimaryKeyQueries())

	_, err := repo.GetAll(ctx, query.All[uuid.UUID]().Where("name", "a"))
	assert.ErrorIs(t, err, repositorycache.ErrUnsupportedQuery)

	_, err = repo.Count(ctx, query.All[uuid.UUID]())
	assert.ErrorIs(t, err, repositorycache.ErrUnsupportedQuery)
}

func TestKeyed_AllKeys(t *testing.T) {
	ctx := context.Background()
	repo, root := newTestKeyed(t)
	keys := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, key := range keys {
		require.NoError(t, repo.Save(ctx, key, []byte(`{}`)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "players", "notes.json"), []byte(`{}`), 0o644))
	require.NoError(t, repo.Delete(ctx, keys[2]))

	got, err := repo.AllKeys(ctx)
	require.NoError(t, err)

	want := []string{keys[0].String(), keys[1].String()}
	gotStrings := make([]string, 0, len(got))
	for _, key := range got {
		gotStrings = append(gotStrings, key.String())
	}
	sort.Strings(want)
	sort.Strings(gotStrings)
	assert.Equal(t, want, gotStrings)
}

func TestSingle_GeneralFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo, err := NewSingle(root, GeneralFile)
	require.NoError(t, err)

	_, ok, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	testsupport.SeedFile(t, testsupport.FixturePath("general.json"), repo.Path())
	data, ok, err := repo.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"motd":"hello"}`, string(data))

	require.NoError(t, repo.Save(ctx, []byte(`{"motd":"bye"}`)))
	data, _, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"motd":"bye"}`, string(data))
	assert.False(t, repo.HasCache())
}

func TestKeyedService_OverFlatFiles(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestKeyed(t)
	svc, err := repositorycache.NewKeyedService[uuid.UUID, query.Keyed[uuid.UUID], *player, []byte](
		translator.NewJSON(newPlayer), repo, repositorycache.WithLogger(logging.Discard()),
	)
	require.NoError(t, err)

	key := uuid.New()
	testsupport.SeedFile(t, testsupport.FixturePath("player.json"), repo.Path(key))

	record, ok, err := svc.GetSync(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	record.Version = 2
	record.Name = "bo"
	record.Level = 9

	_, err = svc.EnsureSaved(ctx).Await(ctx)
	require.NoError(t, err)

	written, err := os.ReadFile(repo.Path(key))
	require.NoError(t, err)
	testsupport.CompareWithGolden(t, testsupport.GoldenPath("saved_player.json"), written)

	_, err = svc.GetAll(ctx, query.All[uuid.UUID]()).Await(ctx)
	assert.True(t, repositorycache.IsUnsupportedQuery(err))
}
