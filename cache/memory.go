package cache

import (
	"sync"

	"github.com/go-kit/kit/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pixelfeed/imageload/asset"
)

// Memory is an in-process LRU image cache. It supports every optional
// capability: synchronous fetch, clearing, and writes.
type Memory struct {
	logger log.Logger
	lru    *lru.Cache[string, *asset.Asset]

	tasks chan func()
	quit  chan struct{}
	wait  sync.WaitGroup
}

var (
	_ Cache       = &Memory{}
	_ SyncFetcher = &Memory{}
	_ Clearer     = &Memory{}
	_ Writer      = &Memory{}
)

// NewMemory creates a Memory cache holding at most size images. Callbacks
// passed to FetchCached are delivered, in order, on a single goroutine owned
// by the cache.
func NewMemory(size int, logger log.Logger) (*Memory, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	l, err := lru.New[string, *asset.Asset](size)
	if err != nil {
		return nil, err
	}
	c := &Memory{
		logger: logger,
		lru:    l,
		tasks:  make(chan func(), 64),
		quit:   make(chan struct{}),
	}
	c.wait.Add(1)
	go c.deliverLoop()
	return c, nil
}

func (c *Memory) deliverLoop() {
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

// FetchCached looks the URL up and delivers the result (nil on a miss) on the
// cache's delivery goroutine.
func (c *Memory) FetchCached(url string, fn func(*asset.Asset)) {
	task := func() {
		a, _ := c.lru.Get(url)
		fn(a)
	}
	select {
	case c.tasks <- task:
	case <-c.quit:
	}
}

// FetchCachedSync answers from the calling goroutine.
func (c *Memory) FetchCachedSync(url string) *asset.Asset {
	a, _ := c.lru.Get(url)
	return a
}

// Put stores an image under its URL.
func (c *Memory) Put(url string, a *asset.Asset) error {
	c.lru.Add(url, a)
	return nil
}

// Clear drops the entry for a URL, if present.
func (c *Memory) Clear(url string) {
	c.lru.Remove(url)
}

// Len is the number of cached images.
func (c *Memory) Len() int {
	return c.lru.Len()
}

// Stop shuts down the delivery goroutine. Pending callbacks are dropped.
func (c *Memory) Stop() {
	close(c.quit)
	c.wait.Wait()
}
