package imageload

import (
	"github.com/pixelfeed/imageload/cache"
	"github.com/pixelfeed/imageload/download"
)

// capabilities records, once at construction, which optional operations the
// collaborators support. The rest of the loader dispatches on these flags and
// never re-probes.
type capabilities struct {
	cacheSync  bool
	cacheClear bool
	cacheWrite bool

	downloadCancel   bool
	downloadPriority bool
	downloadProgress bool
	downloadAnimated bool
}

func probeCollaborators(c cache.Cache, d download.Downloader) capabilities {
	var caps capabilities
	if c != nil {
		_, caps.cacheSync = c.(cache.SyncFetcher)
		_, caps.cacheClear = c.(cache.Clearer)
		_, caps.cacheWrite = c.(cache.Writer)
	}
	if d != nil {
		_, caps.downloadCancel = d.(download.Canceler)
		_, caps.downloadPriority = d.(download.Prioritizer)
		_, caps.downloadProgress = d.(download.ProgressConfigurer)
		_, caps.downloadAnimated = d.(download.AnimatedDecoder)
	}
	return caps
}

// delegateFlags mirrors capabilities for the delegate, recomputed whenever
// the delegate reference changes.
type delegateFlags struct {
	fetchStarted   bool
	loaded         bool
	failed         bool
	decodeFinished bool
}

func probeDelegate(d Delegate) delegateFlags {
	var flags delegateFlags
	if d == nil {
		return flags
	}
	_, flags.fetchStarted = d.(FetchStartedDelegate)
	_, flags.loaded = d.(LoadedDelegate)
	_, flags.failed = d.(FailedDelegate)
	_, flags.decodeFinished = d.(DecodeFinishedDelegate)
	return flags
}
