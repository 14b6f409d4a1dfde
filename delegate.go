package imageload

import "github.com/pixelfeed/imageload/asset"

// Delegate observes load events. Every notification is optional: implement
// any subset of the interfaces below. The loader probes the delegate when it
// is assigned and never notifies a method the delegate does not have.
//
// Notifications are delivered outside the loader's lock, so a delegate may
// call back into the loader.
type Delegate interface{}

// FetchStartedDelegate is notified when the loader begins fetching a URL.
type FetchStartedDelegate interface {
	FetchStarted()
}

// LoadedDelegate is notified with the fetched image. For animated loads it
// receives the poster frame.
type LoadedDelegate interface {
	ImageLoaded(a *asset.Asset)
}

// FailedDelegate is notified once per failed attempt.
type FailedDelegate interface {
	FetchFailed(err error)
}

// DecodeFinishedDelegate is notified after a fetched payload has been decoded
// and committed.
type DecodeFinishedDelegate interface {
	DecodeFinished()
}
