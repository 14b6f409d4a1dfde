// Package download provides the downloader contract used by the loader, and
// an HTTP implementation of it. The required surface is Download; everything
// else is an optional capability expressed as its own interface, probed by
// the loader once at construction.
package download

import "github.com/pixelfeed/imageload/asset"

// Handle represents one in-flight fetch. It is opaque to callers: minted by
// the downloader, held by the loader, and handed back for cancellation and
// re-prioritization. nil means no fetch in flight.
type Handle interface{}

// Priority is a scheduling hint for an in-flight fetch, derived from how
// close the result is to being needed on screen.
type Priority int

const (
	// PriorityPreload: the result is not visible; fetch when convenient.
	PriorityPreload Priority = iota
	// PriorityVisible: the result is on screen.
	PriorityVisible
	// PriorityImminent: the result is about to be displayed.
	PriorityImminent
)

func (p Priority) String() string {
	switch p {
	case PriorityVisible:
		return "visible"
	case PriorityImminent:
		return "imminent"
	}
	return "preload"
}

// ProgressFunc receives partial results during a fetch. partial may be nil
// when the bytes received so far do not decode; fraction is in [0,1].
type ProgressFunc func(partial *asset.Asset, fraction float64)

// Result is a completed fetch. Asset is nil when the payload only decodes as
// an animation, in which case Data still carries the encoded bytes.
type Result struct {
	Asset *asset.Asset
	Data  []byte
}

// Downloader fetches the image at a URL. Download must not block the caller
// beyond enqueueing; the completion callback receives the result or error,
// and completions for a given downloader are serialized on a single ordered
// queue. progress may be nil.
type Downloader interface {
	Download(url string, progress ProgressFunc, completion func(*Result, error)) Handle
}

// Canceler is an optional capability: advise the downloader to abandon a
// fetch. Cancellation is advisory; a completion may still be delivered.
type Canceler interface {
	Cancel(h Handle)
}

// Prioritizer is an optional capability: adjust the scheduling of an
// in-flight fetch.
type Prioritizer interface {
	SetPriority(h Handle, p Priority)
}

// ProgressConfigurer is an optional capability: install or remove (by passing
// nil) the progress callback of an in-flight fetch.
type ProgressConfigurer interface {
	SetProgressCallback(h Handle, fn ProgressFunc)
}

// AnimatedDecoder is an optional capability: decode an animated payload.
type AnimatedDecoder interface {
	DecodeAnimated(data []byte) (*asset.Animated, error)
}
