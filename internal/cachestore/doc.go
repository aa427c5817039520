// Package cachestore keeps rows keyed by an id, each row a fixed tuple of
// values. The timer's built-in task writes one row per fire.
//
// Drivers:
//   - "file": a JSON dictionary replaced atomically on every Set
//   - "sqlite": a table cache(id TEXT PRIMARY KEY, <columns> NULL)
//   - "badger": embedded key-value directory
//   - "redis": remote server, one JSON value per row
//
// An empty or "none" driver disables the cache.
package cachestore
