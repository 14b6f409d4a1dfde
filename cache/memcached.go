package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/pixelfeed/imageload/asset"
)

// MemcachedConfig defines how a Memcached cache should be constructed.
type MemcachedConfig struct {
	// Addrs is the list of memcached host:port addresses.
	Addrs []string
	// Timeout bounds each memcached round trip.
	Timeout time.Duration
	// Expiry is how long stored images live.
	Expiry time.Duration
	Logger log.Logger
}

// Memcached stores encoded images in memcached. It has no synchronous fetch:
// answering would cost a network round trip, which is exactly what the
// synchronous path exists to avoid.
type Memcached struct {
	client *memcache.Client
	expiry time.Duration
	logger log.Logger

	// Concurrent fetches of the same URL share one round trip.
	group singleflight.Group

	tasks chan func()
	quit  chan struct{}
	wait  sync.WaitGroup
}

var (
	_ Cache   = &Memcached{}
	_ Clearer = &Memcached{}
	_ Writer  = &Memcached{}
)

// NewMemcached creates a memcached-backed image cache.
func NewMemcached(config MemcachedConfig) *Memcached {
	if config.Logger == nil {
		config.Logger = log.NewNopLogger()
	}
	client := memcache.New(config.Addrs...)
	if config.Timeout > 0 {
		client.Timeout = config.Timeout
	}
	c := &Memcached{
		client: client,
		expiry: config.Expiry,
		logger: config.Logger,
		tasks:  make(chan func(), 64),
		quit:   make(chan struct{}),
	}
	c.wait.Add(1)
	go c.deliverLoop()
	return c
}

func (c *Memcached) deliverLoop() {
	defer c.wait.Done()
	for {
		select {
		case task := <-c.tasks:
			task()
		case <-c.quit:
			return
		}
	}
}

// FetchCached fetches and decodes the stored image for a URL, delivering the
// result (nil on a miss or on corrupt data) on the cache's delivery
// goroutine.
func (c *Memcached) FetchCached(url string, fn func(*asset.Asset)) {
	task := func() {
		fn(c.fetch(url))
	}
	select {
	case c.tasks <- task:
	case <-c.quit:
	}
}

func (c *Memcached) fetch(url string) *asset.Asset {
	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		item, err := c.client.Get(key(url))
		if err != nil {
			return nil, err
		}
		return item.Value, nil
	})
	if err != nil {
		if err != memcache.ErrCacheMiss {
			c.logger.Log("err", errors.Wrap(err, "fetching from memcache"), "url", url)
		}
		return nil
	}
	a, err := asset.Decode(v.([]byte))
	if err != nil {
		// Corrupt entry; treat as a miss and drop it.
		c.logger.Log("err", errors.Wrap(err, "decoding cached image"), "url", url)
		c.Clear(url)
		return nil
	}
	return a
}

// Put stores the encoded bytes of an image under its URL.
func (c *Memcached) Put(url string, a *asset.Asset) error {
	if len(a.Data) == 0 {
		return errors.New("storing image in memcache: no encoded bytes")
	}
	return c.client.Set(&memcache.Item{
		Key:        key(url),
		Value:      a.Data,
		Expiration: int32(c.expiry.Seconds()),
	})
}

// Clear drops the entry for a URL. A miss is not an error.
func (c *Memcached) Clear(url string) {
	if err := c.client.Delete(key(url)); err != nil && err != memcache.ErrCacheMiss {
		c.logger.Log("err", errors.Wrap(err, "clearing memcache entry"), "url", url)
	}
}

// Stop shuts down the delivery goroutine. Pending callbacks are dropped.
func (c *Memcached) Stop() {
	close(c.quit)
	c.wait.Wait()
}

// Memcache keys may not contain whitespace and are capped at 250 bytes, so
// the URL is hashed rather than embedded.
func key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return strings.Join([]string{
		"imageloadv1", // Just to version in case we need to change format later.
		hex.EncodeToString(sum[:]),
	}, "|")
}
