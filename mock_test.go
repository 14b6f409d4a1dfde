package imageload

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pixelfeed/imageload/asset"
	"github.com/pixelfeed/imageload/download"
)

func testAsset(t *testing.T, w, h int) *asset.Asset {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	a, err := asset.Decode(buf.Bytes())
	require.NoError(t, err)
	return a
}

func animatedData(t *testing.T) []byte {
	t.Helper()
	g := &gif.GIF{}
	palette := color.Palette{color.Black, color.White}
	for i := 0; i < 2; i++ {
		g.Image = append(g.Image, image.NewPaletted(image.Rect(0, 0, 2, 2), palette))
		g.Delay = append(g.Delay, 5)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

// mockCache implements only the required Cache surface. Deliveries are
// synchronous, which the loader must tolerate since it never calls
// collaborators under its lock.
type mockCache struct {
	mtx     sync.Mutex
	images  map[string]*asset.Asset
	fetches int
}

func newMockCache() *mockCache {
	return &mockCache{images: map[string]*asset.Asset{}}
}

func (c *mockCache) FetchCached(url string, fn func(*asset.Asset)) {
	c.mtx.Lock()
	c.fetches++
	a := c.images[url]
	c.mtx.Unlock()
	fn(a)
}

func (c *mockCache) put(url string, a *asset.Asset) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.images[url] = a
}

func (c *mockCache) fetchCount() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.fetches
}

// fullCache adds every optional cache capability.
type fullCache struct {
	mockCache
	clears []string
	puts   []string
}

func newFullCache() *fullCache {
	return &fullCache{mockCache: mockCache{images: map[string]*asset.Asset{}}}
}

func (c *fullCache) FetchCachedSync(url string) *asset.Asset {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.images[url]
}

func (c *fullCache) Clear(url string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.clears = append(c.clears, url)
	delete(c.images, url)
}

func (c *fullCache) Put(url string, a *asset.Asset) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.puts = append(c.puts, url)
	c.images[url] = a
	return nil
}

func (c *fullCache) cleared() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return append([]string(nil), c.clears...)
}

func (c *fullCache) putURLs() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return append([]string(nil), c.puts...)
}

// mockRequest is the handle minted by the mock downloaders. Completion is
// driven explicitly by the test.
type mockRequest struct {
	mtx        sync.Mutex
	url        string
	completion func(*download.Result, error)
	progress   download.ProgressFunc
	cancelled  bool
	priorities []download.Priority
}

func (r *mockRequest) complete(res *download.Result, err error) {
	r.completion(res, err)
}

func (r *mockRequest) reportProgress(partial *asset.Asset, fraction float64) {
	r.mtx.Lock()
	fn := r.progress
	r.mtx.Unlock()
	if fn != nil {
		fn(partial, fraction)
	}
}

func (r *mockRequest) progressInstalled() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.progress != nil
}

func (r *mockRequest) tiers() []download.Priority {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]download.Priority(nil), r.priorities...)
}

func (r *mockRequest) wasCancelled() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.cancelled
}

// plainDownloader implements only Download.
type plainDownloader struct {
	mtx      sync.Mutex
	requests []*mockRequest
}

func (d *plainDownloader) Download(url string, progress download.ProgressFunc, completion func(*download.Result, error)) download.Handle {
	r := &mockRequest{url: url, completion: completion, progress: progress}
	d.mtx.Lock()
	d.requests = append(d.requests, r)
	d.mtx.Unlock()
	return r
}

func (d *plainDownloader) count() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.requests)
}

func (d *plainDownloader) request(i int) *mockRequest {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.requests[i]
}

// fullDownloader adds every optional downloader capability.
type fullDownloader struct {
	plainDownloader
}

func (d *fullDownloader) Cancel(h download.Handle) {
	r := h.(*mockRequest)
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.cancelled = true
}

func (d *fullDownloader) SetPriority(h download.Handle, p download.Priority) {
	r := h.(*mockRequest)
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.priorities = append(r.priorities, p)
}

func (d *fullDownloader) SetProgressCallback(h download.Handle, fn download.ProgressFunc) {
	r := h.(*mockRequest)
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.progress = fn
}

func (d *fullDownloader) DecodeAnimated(data []byte) (*asset.Animated, error) {
	return asset.DecodeAnimated(data)
}

// mockDelegate records every notification.
type mockDelegate struct {
	mtx            sync.Mutex
	started        int
	loaded         []*asset.Asset
	failed         []error
	decodeFinished int
}

func (d *mockDelegate) FetchStarted() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.started++
}

func (d *mockDelegate) ImageLoaded(a *asset.Asset) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.loaded = append(d.loaded, a)
}

func (d *mockDelegate) FetchFailed(err error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.failed = append(d.failed, err)
}

func (d *mockDelegate) DecodeFinished() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.decodeFinished++
}

func (d *mockDelegate) loadedCount() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.loaded)
}

func (d *mockDelegate) failedCount() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.failed)
}

func (d *mockDelegate) startedCount() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.started
}

// loadedOnlyDelegate implements just ImageLoaded, for probing tests.
type loadedOnlyDelegate struct {
	mtx    sync.Mutex
	loaded int
}

func (d *loadedOnlyDelegate) ImageLoaded(*asset.Asset) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.loaded++
}
