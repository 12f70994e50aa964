// Package cache is the fetch-through caching layer that sits between read
// paths and the slower stores that own the data.
//
// # Definitions and the Layer
//
// Every concrete cache declares a [Definition] once: a component tag that
// namespaces its keys, an expiry [Tier], and the [Kind] of backend it lives
// on. A single [Layer] built at process start carries what all definitions
// share (the key composer, the backend [Selector], the tier table and the
// logger) and is passed to the template constructors:
//
//	users, err := cache.NewSingle[int64, User](layer, cache.Definition{
//	    Component: "user",
//	    Tier:      cache.TierMedium,
//	})
//
// # Keys
//
// [Keys.Compose] produces {prefix}_{schemaVersion}_{component}_{logicalID}.
// The parts are escaped so that distinct ids never collide, and ids that
// would exceed memcached's 250 byte key limit are replaced by their SHA-256.
// Bumping the schema version changes every key, which invalidates the whole
// cache without deleting anything.
//
// # Templates
//
//   - [Single] reads one key. On a miss it calls the [Invoker] once, writes
//     a found value back with the tier TTL and returns it.
//   - [Multi] reads a batch of keys in one round trip, loads every miss with
//     one [BatchInvoker] call and writes each record back under its own key.
//   - [Paginated] caches listing pages independently under a base id and a
//     page suffix.
//   - [Lock] is an empty entry written with the backend's native
//     insert-if-absent, used as a replay or dedupe guard.
//
// An Invoker returns (value, found, error). found=false means the record does
// not exist; it is not cached unless the definition sets CacheMissing, in
// which case a negative entry is stored and later fetches return found=false
// without calling the source. Concurrent misses on the same key may both load
// and both write.
//
// # Errors
//
// Backend read failures are returned marked [ErrBackendUnavailable] and the
// source is not called. Loader failures are returned marked [ErrSource] with
// the loader's error still in the chain. Write-back failures are logged and
// counted but never fail the fetch, and an entry that cannot be decoded is
// treated as a miss.
//
// # Backends
//
//   - [NewMemcached] is the default shared store ([github.com/bradfitz/gomemcache]).
//   - [NewRedis] is the alternative shared store ([github.com/redis/go-redis/v9]).
//   - [NewInMemory] is the process-local store: sharded LRUs with per-entry expiry.
//   - [NewGuarded] wraps a shared store in a circuit breaker.
//
// Values are stored through a [Codec]. [DefaultCodec] keeps strings, byte
// slices and integers raw and encodes everything else with msgpack
// ([github.com/vmihailenco/msgpack/v5]).
package cache
