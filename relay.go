package imageload

import (
	"image"

	"github.com/google/uuid"

	"github.com/pixelfeed/imageload/asset"
	"github.com/pixelfeed/imageload/download"
)

// reconfigurePriority pushes the priority tier implied by the current
// visibility onto the in-flight fetch, if the downloader supports that. The
// collaborator call runs with the lock released: the display pipeline can
// call back into the loader from another thread while holding its own lock,
// and holding ours across the call would invert the order.
func (l *Loader) reconfigurePriority() {
	if !l.caps.downloadPriority {
		return
	}
	l.mtx.Lock()
	h := l.handle
	var tier download.Priority
	switch {
	case l.displayPending:
		tier = download.PriorityImminent
	case l.visible:
		tier = download.PriorityVisible
	default:
		tier = download.PriorityPreload
	}
	l.mtx.Unlock()

	if h == nil {
		return
	}
	l.downloader.(download.Prioritizer).SetPriority(h, tier)
}

// reconfigureProgress installs or removes the progress callback on the
// in-flight fetch. Partial rendering is only worth the decode work while the
// image is actually on screen, so the callback is present exactly when
// progress rendering is enabled, the loader is visible, and a fetch is in
// flight. Runs with the lock released for the same reason as above.
func (l *Loader) reconfigureProgress() {
	if !l.caps.downloadProgress {
		return
	}
	l.mtx.Lock()
	h := l.handle
	token := l.downloadToken
	install := l.renderProgress && l.visible && h != nil
	l.mtx.Unlock()

	if h == nil {
		return
	}
	var fn download.ProgressFunc
	if install {
		fn = l.progressFunc(token)
	}
	l.downloader.(download.ProgressConfigurer).SetProgressCallback(h, fn)
}

// progressFunc builds the progress callback for one download attempt. It is
// gated by the attempt's token, commits decodable partials for display, and
// funnels the reported fraction through the ordered quality queue.
func (l *Loader) progressFunc(token uuid.UUID) download.ProgressFunc {
	return func(partial *asset.Asset, fraction float64) {
		l.mtx.Lock()
		if l.closed || token != l.downloadToken {
			l.mtx.Unlock()
			return
		}
		var old image.Image
		if partial != nil {
			old = l.replaceImageLocked(partial.Image)
		}
		l.scheduleQualityLocked(fraction)
		l.mtx.Unlock()
		l.discard(old)
	}
}
