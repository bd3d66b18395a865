// Package repositorycache provides cached record services over pluggable
// repositories.
//
// # Overview
//
// A KeyedService fronts a KeyedRepository with an in-memory cache. Reads are
// cache-aside: a hit returns the cached record, a miss loads it through the
// Translator and caches it. Saves are write-through: the repository is written
// first and the cache only changes once that succeeds.
//
// A SingleService does the same for one well-known record, such as server-wide
// settings, with a single slot that is never evicted.
//
// # Dirty tracking
//
// Records are handed out by reference and callers mutate them in place. The
// service cannot observe such mutation, so every read that yields a record
// marks its key dirty. EnsureSaved snapshots the dirty set, re-saves every key
// that is still cached and forgets the rest:
//
//	profile, _, err := profiles.GetSync(ctx, id)
//	if err != nil {
//		return err
//	}
//	profile.Nickname = "ann"
//	// later, at a checkpoint
//	_, err = profiles.EnsureSaved(ctx).Await(ctx)
//
// ClearCache drops cached records without saving them. Call EnsureSaved first
// to keep pending changes.
//
// # Eviction
//
// Cached records expire after Config.IdleTimeout without access (five minutes
// by default). Every hit refreshes the deadline. An expired record that was
// mutated but never flushed is lost.
//
// # Queries
//
// GetQuery, GetAll, Count and ExistsQuery accept a Query. Backends that only
// do point lookups report SupportsNonPrimaryKeyQueries() == false; for them,
// any query that is not a plain key restriction fails with
// UnsupportedQueryError before the repository is called.
//
// # Asynchrony
//
// Operations return a *future.Future. Cache hits resolve immediately; repository
// work runs on the configured executor. The Sync variants block the caller and
// are meant for code that already runs off the hot path.
//
// # Concurrency
//
// Saves, deletes and loads for one key are serialized, so the cache always ends
// with the value of the last repository write. Concurrent misses for one key
// share a single repository fetch. There is no atomicity across keys.
//
// # See Also
//
// The cache package covers configuration and key serialization, translator has
// JSON and MessagePack translators, persistence has file and SQL backends, and
// pkg/di wires services and periodic flushing.
package repositorycache
