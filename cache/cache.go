// Package cache provides image caches for the loader. A cache implements
// Cache at minimum; the optional capabilities are separate interfaces so the
// loader can probe for them once at construction.
package cache

import "github.com/pixelfeed/imageload/asset"

// Cache asynchronously fetches a previously stored image. The callback is
// invoked with nil on a miss, and deliveries for a given cache are serialized
// on a single ordered queue.
type Cache interface {
	FetchCached(url string, fn func(*asset.Asset))
}

// SyncFetcher is an optional capability: fetch without leaving the calling
// goroutine. Only sensible for caches that answer from local memory.
type SyncFetcher interface {
	FetchCachedSync(url string) *asset.Asset
}

// Clearer is an optional capability: drop the entry for a URL.
type Clearer interface {
	Clear(url string)
}

// Writer is implemented by caches that accept entries; the loader stores
// downloaded images through it when caching is enabled.
type Writer interface {
	Put(url string, a *asset.Asset) error
}
