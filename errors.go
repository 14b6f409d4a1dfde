package imageload

import "github.com/pkg/errors"

// Failures fall into a small number of categories, essentially distinguished
// by what the loader does next:
//   - capability-absent: the optional behavior is skipped; never an error.
//   - cache-miss: not an error; the loader falls through to the downloader.
//   - fetch-failure: surfaced once to the delegate, then terminal for that
//     attempt. A later fetch starts fresh.
//   - stale-result: the request was superseded; discarded silently.
//   - local-resource-not-found: a secondary resolution is tried first; only
//     if that also fails is the default image left in place.

// ErrLocalNotFound reports that a local resource resolved neither directly
// nor through the assets-directory fallback.
var ErrLocalNotFound = errors.New("local resource not found")

// fetchError annotates a collaborator-reported failure with its URL before
// it is surfaced to the delegate.
func fetchError(url string, err error) error {
	return errors.Wrapf(err, "fetching %s", url)
}
