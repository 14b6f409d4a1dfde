// Package imageload coordinates asynchronous image acquisition. Given a URL,
// a Loader decides whether to satisfy the request from a cache, fall back to
// a network fetch, or read a local resource directly; tracks in-flight
// request identity so results of superseded requests are discarded; exposes
// progressive-quality signaling and visibility-driven priority hints; and is
// safe under concurrent mutation from a control thread, background fetch
// goroutines, and collaborator callback queues.
//
// Cancellation is by disowning, not by stopping: every asynchronous result
// carries the token of the request that started it, and a result whose token
// no longer matches the loader's current token is dropped without touching
// state. Asking the collaborator to cancel merely reduces wasted work.
package imageload

import (
	"image"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"

	"github.com/pixelfeed/imageload/asset"
	"github.com/pixelfeed/imageload/cache"
	"github.com/pixelfeed/imageload/download"
)

// Config defines how a Loader should be constructed. Cache and Downloader
// are both optional, though a Loader with neither can only resolve local
// resources.
type Config struct {
	Cache      cache.Cache
	Downloader download.Downloader
	Delegate   Delegate

	// DefaultImage is shown whenever no fetched image is.
	DefaultImage image.Image
	// AssetsDir is searched by base name when a local resource does not
	// resolve at its direct path.
	AssetsDir string

	Logger  log.Logger
	Metrics *Metrics
}

// Loader is the image-acquisition coordinator. All methods may be called
// from any goroutine.
type Loader struct {
	mtx sync.Mutex // guards every mutable field below

	cache      cache.Cache
	downloader download.Downloader
	caps       capabilities
	assetsDir  string
	logger     log.Logger
	metrics    Metrics

	delegate Delegate
	delFlags delegateFlags

	url          string
	defaultImage image.Image
	image        image.Image
	animated     *asset.Animated
	loaded       bool

	quality         float64
	renderedQuality float64

	// Per-phase request identity. uuid.Nil means no request in that phase.
	cacheToken    uuid.UUID
	downloadToken uuid.UUID
	handle        download.Handle
	fetchStart    time.Time

	visible        bool
	displayPending bool

	renderProgress bool
	cacheImages    bool

	closed bool

	// qualityQueue serializes every quality mutation; see serialQueue.
	qualityQueue *serialQueue
	discards     chan image.Image
	quit         chan struct{}
	wait         sync.WaitGroup
}

// New creates a Loader. Collaborator capabilities are probed here, once, and
// drive which optional code paths are taken for the lifetime of the Loader.
func New(config Config) *Loader {
	logger := config.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	metrics := NopMetrics()
	if config.Metrics != nil {
		metrics = *config.Metrics
	}
	l := &Loader{
		cache:        config.Cache,
		downloader:   config.Downloader,
		caps:         probeCollaborators(config.Cache, config.Downloader),
		assetsDir:    config.AssetsDir,
		logger:       logger,
		metrics:      metrics,
		delegate:     config.Delegate,
		delFlags:     probeDelegate(config.Delegate),
		defaultImage: config.DefaultImage,
		image:        config.DefaultImage,
		cacheImages:  true,
		qualityQueue: newSerialQueue(),
		discards:     make(chan image.Image, 8),
		quit:         make(chan struct{}),
	}
	l.wait.Add(1)
	go l.discardLoop()
	return l
}

// SetURL assigns the resource to load. Assigning the URL already stored is a
// no-op. Any other assignment disowns in-flight work; if resetToDefault is
// true (or the URL is empty) the displayed image reverts to the default and
// the quality is reset. If the loader is currently eligible to fetch, a
// fetch is triggered.
func (l *Loader) SetURL(url string, resetToDefault bool) {
	l.mtx.Lock()
	if l.closed || url == l.url {
		l.mtx.Unlock()
		return
	}
	cancel := l.cancelFetchLocked()
	l.loaded = false
	l.url = url

	var old image.Image
	if resetToDefault || url == "" {
		old = l.replaceImageLocked(l.defaultImage)
		l.animated = nil
		// Quality goes to 0 with no URL; with one, it goes straight to the
		// "we know we'll show something" sentinel of 1.0 before any fetch.
		// Delegates depend on the exact timing of this signal.
		if url == "" {
			l.scheduleQualityLocked(0)
		} else {
			l.scheduleQualityLocked(1)
		}
	}
	eligible := l.visible || l.displayPending
	l.mtx.Unlock()

	cancel()
	l.discard(old)
	if eligible {
		l.FetchIfNeeded()
	}
}

// URL returns the currently assigned resource.
func (l *Loader) URL() string {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.url
}

// SetDefaultImage replaces the image shown when nothing has been fetched. If
// nothing has been fetched right now, the displayed image updates too.
func (l *Loader) SetDefaultImage(img image.Image) {
	l.mtx.Lock()
	if l.closed {
		l.mtx.Unlock()
		return
	}
	l.defaultImage = img
	if !l.loaded {
		l.image = img
	}
	l.mtx.Unlock()
}

// Image returns the currently displayed image: the fetched one once loaded,
// a progress partial while one is being rendered, or the default.
func (l *Loader) Image() image.Image {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.image
}

// Animated returns the committed animation, if the last load was animated.
func (l *Loader) Animated() *asset.Animated {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.animated
}

// Loaded reports whether a fetched image is committed for the current URL.
func (l *Loader) Loaded() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.loaded
}

// Quality is the fraction of the final image currently available, in [0,1].
func (l *Loader) Quality() float64 {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.quality
}

// RenderedQuality is the quality of the image last committed for display. It
// only ever takes values previously observed as Quality.
func (l *Loader) RenderedQuality() float64 {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.renderedQuality
}

// ClearFetchedData disowns in-flight work, reverts to the default image at
// quality 0, and, if the cache supports clearing, clears the entry for the
// current URL.
func (l *Loader) ClearFetchedData() {
	l.mtx.Lock()
	if l.closed {
		l.mtx.Unlock()
		return
	}
	cancel := l.cancelFetchLocked()
	old := l.replaceImageLocked(l.defaultImage)
	l.animated = nil
	l.loaded = false
	l.scheduleQualityLocked(0)
	url := l.url
	clearCache := l.caps.cacheClear && url != ""
	l.mtx.Unlock()

	cancel()
	l.discard(old)
	if clearCache {
		l.cache.(cache.Clearer).Clear(url)
	}
}

// SetVisible signals that the displayed image entered or left the screen.
// Becoming visible makes the loader eligible to fetch; either transition
// re-tunes download priority and progress wiring.
func (l *Loader) SetVisible(visible bool) {
	l.mtx.Lock()
	if l.closed || visible == l.visible {
		l.mtx.Unlock()
		return
	}
	l.visible = visible
	l.mtx.Unlock()

	l.reconfigurePriority()
	l.reconfigureProgress()
	if visible {
		l.FetchIfNeeded()
	}
}

// DisplayWillStart signals that display of the image is imminent. If the
// cache supports it, the entry is read synchronously so the first paint can
// already have the image; then a fetch is triggered if still needed.
func (l *Loader) DisplayWillStart() {
	l.mtx.Lock()
	if l.closed {
		l.mtx.Unlock()
		return
	}
	l.displayPending = true
	url := l.url
	trySync := l.caps.cacheSync && l.cacheImages && !l.loaded && url != "" && !isLocalURL(url)
	l.mtx.Unlock()

	if trySync {
		// Collaborator call outside the lock: the display pipeline may be
		// holding its own lock while calling in here.
		if a := l.cache.(cache.SyncFetcher).FetchCachedSync(url); a != nil {
			l.mtx.Lock()
			var commit func()
			if !l.closed && l.url == url && !l.loaded {
				cancel := l.cancelFetchLocked()
				commit = l.commitLocked(a, nil)
				l.mtx.Unlock()
				cancel()
			} else {
				l.mtx.Unlock()
			}
			if commit != nil {
				l.metrics.CacheRequests.With(LabelHit, "true").Add(1)
				commit()
			}
		}
	}

	l.reconfigurePriority()
	l.reconfigureProgress()
	l.FetchIfNeeded()
}

// DisplayDidFinish signals that the displayed image has been committed to
// screen. The rendered quality catches up with the current quality, via the
// ordered queue so it can only observe values that were really current.
func (l *Loader) DisplayDidFinish() {
	l.mtx.Lock()
	if l.closed {
		l.mtx.Unlock()
		return
	}
	l.displayPending = false
	l.mtx.Unlock()

	l.qualityQueue.enqueue(func() {
		l.mtx.Lock()
		defer l.mtx.Unlock()
		if l.closed {
			return
		}
		l.renderedQuality = l.quality
	})
	l.reconfigurePriority()
}

// SetShouldRenderProgressImages toggles committing partial images as they
// arrive. The progress wiring of any in-flight download is updated.
func (l *Loader) SetShouldRenderProgressImages(render bool) {
	l.mtx.Lock()
	if l.closed || render == l.renderProgress {
		l.mtx.Unlock()
		return
	}
	l.renderProgress = render
	l.mtx.Unlock()
	l.reconfigureProgress()
}

// ShouldRenderProgressImages reports whether partial images are committed.
func (l *Loader) ShouldRenderProgressImages() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.renderProgress
}

// SetShouldCacheImage toggles consulting and filling the cache.
func (l *Loader) SetShouldCacheImage(cacheImages bool) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.closed {
		l.cacheImages = cacheImages
	}
}

// ShouldCacheImage reports whether the cache is consulted and filled.
func (l *Loader) ShouldCacheImage() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.cacheImages
}

// SetDelegate assigns the delegate and re-probes its optional methods.
func (l *Loader) SetDelegate(d Delegate) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.delegate = d
	l.delFlags = probeDelegate(d)
}

// Close disowns in-flight work and stops the loader's goroutines. Every
// callback still in flight becomes a no-op. A closed loader ignores all
// further calls.
func (l *Loader) Close() {
	l.mtx.Lock()
	if l.closed {
		l.mtx.Unlock()
		return
	}
	l.closed = true
	cancel := l.cancelFetchLocked()
	l.mtx.Unlock()

	cancel()
	l.qualityQueue.stop()
	close(l.quit)
	l.wait.Wait()
}

// cancelFetchLocked disowns all in-flight work by invalidating both phase
// tokens and taking the handle. It returns the collaborator cancel call to
// run after the lock is released; invalidating the tokens is what guarantees
// correctness even if that call has no effect.
func (l *Loader) cancelFetchLocked() func() {
	l.cacheToken = uuid.Nil
	l.downloadToken = uuid.Nil
	h := l.handle
	l.handle = nil
	if h == nil || !l.caps.downloadCancel {
		return func() {}
	}
	return func() {
		l.downloader.(download.Canceler).Cancel(h)
	}
}

// replaceImageLocked swaps the displayed image and returns the old one if it
// should be released; the default image is never released.
func (l *Loader) replaceImageLocked(img image.Image) image.Image {
	old := l.image
	l.image = img
	if old == nil || old == l.defaultImage || old == img {
		return nil
	}
	return old
}

// scheduleQualityLocked funnels a quality write through the ordered queue.
func (l *Loader) scheduleQualityLocked(q float64) {
	l.qualityQueue.enqueue(func() {
		l.mtx.Lock()
		defer l.mtx.Unlock()
		if l.closed {
			return
		}
		l.quality = q
	})
}

// commitLocked installs a fetched result and returns the notification call
// to run after the lock is released.
func (l *Loader) commitLocked(a *asset.Asset, anim *asset.Animated) func() {
	old := l.replaceImageLocked(a.Image)
	l.animated = anim
	l.loaded = true
	l.scheduleQualityLocked(1)
	del := l.delegate
	flags := l.delFlags
	return func() {
		l.discard(old)
		if flags.loaded {
			del.(LoadedDelegate).ImageLoaded(a)
		}
		if flags.decodeFinished {
			del.(DecodeFinishedDelegate).DecodeFinished()
		}
	}
}

// discard hands a replaced image to the background discard goroutine so the
// last reference is not dropped on a latency-sensitive path. If the queue is
// full the reference is dropped inline.
func (l *Loader) discard(old image.Image) {
	if old == nil {
		return
	}
	select {
	case l.discards <- old:
	default:
	}
}

func (l *Loader) discardLoop() {
	defer l.wait.Done()
	for {
		select {
		case img := <-l.discards:
			_ = img // dropping the reference here is the point
		case <-l.quit:
			return
		}
	}
}
