package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/pkg/errors"

	"github.com/pixelfeed/imageload/asset"
)

// HTTPConfig defines how an HTTP downloader should be constructed.
type HTTPConfig struct {
	// Client is the HTTP client to fetch with. Defaults to a plain client;
	// timeouts are handled per request via Timeout.
	Client *http.Client
	// Workers is the number of concurrent fetches. Defaults to 4.
	Workers int
	// QueueDepth bounds each priority queue. Defaults to 128.
	QueueDepth int
	// Timeout bounds a single fetch, zero meaning none.
	Timeout time.Duration
	Logger  log.Logger
	// FetchDuration, if set, observes the duration of each fetch with a
	// "success" label.
	FetchDuration metrics.Histogram
}

// HTTP fetches images over HTTP(S). Requests wait in one of three priority
// queues; workers always drain higher tiers first. It implements every
// optional downloader capability.
type HTTP struct {
	client   *http.Client
	logger   log.Logger
	duration metrics.Histogram

	queues     [3]chan *httpRequest
	deliveries chan func()
	quit       chan struct{}
	wait       sync.WaitGroup
}

var (
	_ Downloader         = &HTTP{}
	_ Canceler           = &HTTP{}
	_ Prioritizer        = &HTTP{}
	_ ProgressConfigurer = &HTTP{}
	_ AnimatedDecoder    = &HTTP{}
)

const (
	statePending int32 = iota
	stateRunning
	stateDone
)

type httpRequest struct {
	url        string
	ctx        context.Context
	cancel     context.CancelFunc
	completion func(*Result, error)

	// state guards against double execution when a priority change leaves a
	// stale entry behind in another queue.
	state int32

	progress atomic.Value // progressHolder
}

// atomic.Value requires a consistent concrete type, so the callback is boxed.
type progressHolder struct {
	fn ProgressFunc
}

func (r *httpRequest) progressFn() ProgressFunc {
	if h, ok := r.progress.Load().(progressHolder); ok {
		return h.fn
	}
	return nil
}

// NewHTTP creates an HTTP downloader and starts its workers.
func NewHTTP(config HTTPConfig) *HTTP {
	if config.Client == nil {
		config.Client = &http.Client{}
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 128
	}
	if config.Logger == nil {
		config.Logger = log.NewNopLogger()
	}
	if config.FetchDuration == nil {
		config.FetchDuration = discard.NewHistogram()
	}
	d := &HTTP{
		client:     config.Client,
		logger:     config.Logger,
		duration:   config.FetchDuration,
		deliveries: make(chan func(), 64),
		quit:       make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = make(chan *httpRequest, config.QueueDepth)
	}
	d.wait.Add(1)
	go d.deliverLoop()
	for i := 0; i < config.Workers; i++ {
		d.wait.Add(1)
		go d.worker(config.Timeout)
	}
	return d
}

// Download enqueues a fetch at preload priority and returns its handle.
func (d *HTTP) Download(url string, progress ProgressFunc, completion func(*Result, error)) Handle {
	ctx, cancel := context.WithCancel(context.Background())
	r := &httpRequest{
		url:        url,
		ctx:        ctx,
		cancel:     cancel,
		completion: completion,
	}
	r.progress.Store(progressHolder{progress})
	select {
	case d.queues[PriorityPreload] <- r:
	case <-d.quit:
		cancel()
	}
	return r
}

// Cancel advises the downloader to abandon the fetch. If it has not started,
// a worker will claim it and complete with the cancellation error; the
// caller is expected to discard that result.
func (d *HTTP) Cancel(h Handle) {
	if r, ok := h.(*httpRequest); ok {
		r.cancel()
	}
}

// SetPriority moves a not-yet-started fetch to another queue. The stale
// entry in the old queue is skipped when a worker claims the request.
func (d *HTTP) SetPriority(h Handle, p Priority) {
	r, ok := h.(*httpRequest)
	if !ok || p < PriorityPreload || p > PriorityImminent {
		return
	}
	if atomic.LoadInt32(&r.state) != statePending {
		return
	}
	select {
	case d.queues[p] <- r:
	default:
		// Queue full; the request keeps its old position.
	}
}

// SetProgressCallback replaces the progress callback of an in-flight fetch.
// nil removes it.
func (d *HTTP) SetProgressCallback(h Handle, fn ProgressFunc) {
	if r, ok := h.(*httpRequest); ok {
		r.progress.Store(progressHolder{fn})
	}
}

// DecodeAnimated decodes an animated payload.
func (d *HTTP) DecodeAnimated(data []byte) (*asset.Animated, error) {
	return asset.DecodeAnimated(data)
}

// Stop shuts down the workers and the delivery goroutine. Queued fetches are
// dropped without completion.
func (d *HTTP) Stop() {
	close(d.quit)
	d.wait.Wait()
}

func (d *HTTP) deliverLoop() {
	defer d.wait.Done()
	for {
		select {
		case fn := <-d.deliveries:
			fn()
		case <-d.quit:
			return
		}
	}
}

// deliver funnels completions and progress through one goroutine so that
// deliveries are serialized relative to each other.
func (d *HTTP) deliver(fn func()) {
	select {
	case d.deliveries <- fn:
	case <-d.quit:
	}
}

func (d *HTTP) worker(timeout time.Duration) {
	defer d.wait.Done()
	for {
		// Drain higher tiers first.
		select {
		case r := <-d.queues[PriorityImminent]:
			d.run(r, timeout)
			continue
		default:
		}
		select {
		case r := <-d.queues[PriorityImminent]:
			d.run(r, timeout)
			continue
		case r := <-d.queues[PriorityVisible]:
			d.run(r, timeout)
			continue
		default:
		}
		select {
		case r := <-d.queues[PriorityImminent]:
			d.run(r, timeout)
		case r := <-d.queues[PriorityVisible]:
			d.run(r, timeout)
		case r := <-d.queues[PriorityPreload]:
			d.run(r, timeout)
		case <-d.quit:
			return
		}
	}
}

func (d *HTTP) run(r *httpRequest, timeout time.Duration) {
	if !atomic.CompareAndSwapInt32(&r.state, statePending, stateRunning) {
		return // stale queue entry, already claimed elsewhere
	}
	defer atomic.StoreInt32(&r.state, stateDone)
	defer r.cancel()

	ctx := r.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := d.get(ctx, r)
	d.duration.With("success", fmt.Sprint(err == nil)).Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.Log("url", r.url, "err", err)
	}
	d.deliver(func() { r.completion(res, err) })
}

func (d *HTTP) get(ctx context.Context, r *httpRequest) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("bad status: %s", resp.Status)
	}

	var (
		buf      bytes.Buffer
		total    = resp.ContentLength
		chunk    = make([]byte, 32*1024)
		reported float64
	)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if fn := r.progressFn(); fn != nil && total > 0 {
				fraction := float64(buf.Len()) / float64(total)
				// Report in steps; each step attempts a partial decode so
				// progressive formats can be shown as they arrive.
				if fraction-reported >= 0.1 && fraction < 1 {
					reported = fraction
					partial, _ := partialDecode(buf.Bytes())
					d.deliver(func() { fn(partial, fraction) })
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	a, err := asset.Decode(data)
	if err != nil {
		if asset.IsAnimated(data) {
			// Animated-only payload; the caller decodes it if able.
			return &Result{Data: data}, nil
		}
		return nil, errors.Wrapf(err, "decoding %s payload", asset.Sniff(data))
	}
	d.logger.Log("url", r.url, "size", humanize.Bytes(uint64(len(data))), "format", asset.Sniff(data))
	return &Result{Asset: a, Data: data}, nil
}

func partialDecode(data []byte) (*asset.Asset, error) {
	// Truncated data rarely decodes; a nil partial with a fraction is still
	// useful to the caller.
	return asset.Decode(data)
}
