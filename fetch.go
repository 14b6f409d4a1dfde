package imageload

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pixelfeed/imageload/asset"
	"github.com/pixelfeed/imageload/cache"
	"github.com/pixelfeed/imageload/download"
)

// FetchIfNeeded starts acquiring the current URL unless an attempt is
// already in flight or the image is already loaded. The decision procedure:
// local resources resolve synchronously; otherwise the cache is consulted,
// falling back to the downloader on a miss.
func (l *Loader) FetchIfNeeded() {
	l.mtx.Lock()
	if !l.canFetchLocked() {
		l.mtx.Unlock()
		return
	}
	start := l.startFetchLocked()
	del := l.delegate
	notify := l.delFlags.fetchStarted
	l.mtx.Unlock()

	if notify {
		del.(FetchStartedDelegate).FetchStarted()
	}
	start()
}

func (l *Loader) canFetchLocked() bool {
	return !l.closed &&
		l.url != "" &&
		!l.loaded &&
		l.handle == nil &&
		l.cacheToken == uuid.Nil &&
		l.downloadToken == uuid.Nil
}

// startFetchLocked picks the acquisition path and mints the phase token for
// it. The returned closure performs the collaborator calls and must run
// after the lock is released.
func (l *Loader) startFetchLocked() func() {
	url := l.url
	l.fetchStart = time.Now()
	switch {
	case isLocalURL(url):
		return func() { l.loadLocal(url) }
	case l.cache != nil && l.cacheImages:
		token := uuid.New()
		l.cacheToken = token
		return func() { l.fetchFromCache(url, token) }
	case l.downloader != nil:
		token := uuid.New()
		l.downloadToken = token
		return func() { l.startDownload(url, token) }
	default:
		return func() {}
	}
}

// isLocalURL reports whether a URL denotes a local resource: an explicit
// file scheme, or no scheme at all (a plain path).
func isLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "" || u.Scheme == "file"
}

// localPath strips the file scheme from a local URL.
func localPath(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme == "file" {
		if u.Path != "" {
			return u.Path
		}
		return u.Opaque
	}
	return raw
}

// resolveLocal reads a local resource: first at its direct path, then by
// base name under the assets directory.
func (l *Loader) resolveLocal(raw string) ([]byte, error) {
	path := localPath(raw)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if l.assetsDir != "" {
		fallback := filepath.Join(l.assetsDir, filepath.Base(path))
		if data, ferr := os.ReadFile(fallback); ferr == nil {
			return data, nil
		}
	}
	return nil, errors.Wrapf(ErrLocalNotFound, "%s", path)
}

// loadLocal resolves a local resource and completes immediately at quality 1.
// Neither cache nor downloader is consulted. Commits are gated on the URL
// still being current: the read happens outside the lock and the loader may
// have been retargeted meanwhile.
func (l *Loader) loadLocal(url string) {
	start := time.Now()
	data, err := l.resolveLocal(url)
	var a *asset.Asset
	if err == nil {
		a, err = asset.Decode(data)
	}
	success := err == nil
	l.metrics.FetchDuration.With(LabelSource, SourceLocal, LabelSuccess, fmt.Sprint(success)).Observe(time.Since(start).Seconds())
	if err != nil {
		// Local misses leave the default image in place; there is no
		// in-flight state to unwind.
		l.logger.Log("url", url, "err", err)
		return
	}

	l.mtx.Lock()
	if l.closed || l.url != url || l.loaded {
		l.mtx.Unlock()
		return
	}
	commit := l.commitLocked(a, nil)
	l.mtx.Unlock()
	commit()
}

// fetchFromCache asks the cache for the URL. The completion carries the
// cache-phase token minted for this attempt.
func (l *Loader) fetchFromCache(url string, token uuid.UUID) {
	l.cache.FetchCached(url, func(a *asset.Asset) {
		l.completeCache(url, token, a)
	})
}

func (l *Loader) completeCache(url string, token uuid.UUID, a *asset.Asset) {
	l.mtx.Lock()
	if l.closed || token != l.cacheToken {
		l.mtx.Unlock()
		l.metrics.StaleResults.With(LabelPhase, PhaseCache).Add(1)
		return
	}
	// The cache-phase token is spent the moment its completion fires, so a
	// duplicate delivery can never apply twice.
	l.cacheToken = uuid.Nil

	if a != nil {
		commit := l.commitLocked(a, nil)
		elapsed := time.Since(l.fetchStart)
		l.mtx.Unlock()
		l.metrics.CacheRequests.With(LabelHit, "true").Add(1)
		l.metrics.FetchDuration.With(LabelSource, SourceCache, LabelSuccess, "true").Observe(elapsed.Seconds())
		commit()
		return
	}

	// Cache miss: fall through to the downloader, or complete with no image
	// and no error if there is none.
	if l.downloader == nil {
		l.mtx.Unlock()
		l.metrics.CacheRequests.With(LabelHit, "false").Add(1)
		return
	}
	next := uuid.New()
	l.downloadToken = next
	l.mtx.Unlock()
	l.metrics.CacheRequests.With(LabelHit, "false").Add(1)
	l.startDownload(url, next)
}

// startDownload dispatches the downloader call on a background goroutine so
// the caller (control thread or cache callback queue) is never blocked by
// it.
func (l *Loader) startDownload(url string, token uuid.UUID) {
	go func() {
		l.mtx.Lock()
		if l.closed || token != l.downloadToken {
			l.mtx.Unlock()
			return
		}
		var progress download.ProgressFunc
		if l.renderProgress && l.visible {
			progress = l.progressFunc(token)
		}
		l.mtx.Unlock()

		h := l.downloader.Download(url, progress, func(res *download.Result, err error) {
			l.completeDownload(url, token, res, err)
		})

		l.mtx.Lock()
		if l.closed || token != l.downloadToken {
			// Superseded while dispatching; disown the fetch we just
			// started.
			l.mtx.Unlock()
			if l.caps.downloadCancel {
				l.downloader.(download.Canceler).Cancel(h)
			}
			return
		}
		l.handle = h
		l.mtx.Unlock()

		// The handle changed; re-tune priority and progress wiring for it.
		l.reconfigurePriority()
		l.reconfigureProgress()
	}()
}

func (l *Loader) completeDownload(url string, token uuid.UUID, res *download.Result, err error) {
	// Animated decoding is a collaborator call, so it happens before taking
	// the lock; if the result turns out stale the work is merely wasted.
	var anim *asset.Animated
	if err == nil && res != nil && l.caps.downloadAnimated && len(res.Data) > 0 && asset.IsAnimated(res.Data) {
		var derr error
		anim, derr = l.downloader.(download.AnimatedDecoder).DecodeAnimated(res.Data)
		if derr != nil {
			// Fall back to the still decode if there is one.
			l.logger.Log("url", url, "err", derr)
			anim = nil
		}
	}

	l.mtx.Lock()
	if l.closed || token != l.downloadToken {
		l.mtx.Unlock()
		l.metrics.StaleResults.With(LabelPhase, PhaseDownload).Add(1)
		return
	}
	l.downloadToken = uuid.Nil
	l.handle = nil
	elapsed := time.Since(l.fetchStart)

	if err == nil {
		err = resultErr(res, anim)
	}
	if err != nil {
		del := l.delegate
		notify := l.delFlags.failed
		l.mtx.Unlock()
		l.metrics.FetchDuration.With(LabelSource, SourceDownload, LabelSuccess, "false").Observe(elapsed.Seconds())
		l.logger.Log("url", url, "err", err)
		if notify {
			del.(FailedDelegate).FetchFailed(fetchError(url, err))
		}
		return
	}

	a := res.Asset
	if a == nil {
		a = anim.Poster()
	}
	fillCache := l.cacheImages && l.caps.cacheWrite
	commit := l.commitLocked(a, anim)
	l.mtx.Unlock()

	l.metrics.FetchDuration.With(LabelSource, SourceDownload, LabelSuccess, "true").Observe(elapsed.Seconds())
	commit()
	if fillCache {
		// Fire and forget; a failed fill only costs a future cache miss.
		go func() {
			if perr := l.cache.(cache.Writer).Put(url, a); perr != nil {
				l.logger.Log("url", url, "err", errors.Wrap(perr, "filling cache"))
			}
		}()
	}
}

// resultErr rejects results that carry nothing displayable.
func resultErr(res *download.Result, anim *asset.Animated) error {
	if res == nil {
		return errors.New("downloader returned no result")
	}
	if res.Asset == nil && (anim == nil || anim.Poster() == nil) {
		return errors.New("payload not displayable")
	}
	return nil
}
