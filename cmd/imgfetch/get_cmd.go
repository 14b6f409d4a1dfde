package main

import (
	"os"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pixelfeed/imageload"
	"github.com/pixelfeed/imageload/asset"
	"github.com/pixelfeed/imageload/cache"
	"github.com/pixelfeed/imageload/download"
)

type getOpts struct {
	*rootOpts
	Output    string
	AssetsDir string
	Progress  bool
	CacheSize int
}

func newGet(root *rootOpts) *getOpts {
	return &getOpts{rootOpts: root}
}

func (opts *getOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "fetch one image and write it to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "",
		"file to write the fetched image to (required)")
	cmd.Flags().StringVar(&opts.AssetsDir, "assets-dir", "",
		"directory searched by base name when a local path does not resolve")
	cmd.Flags().BoolVar(&opts.Progress, "progress", true,
		"show a progress bar driven by the loader's quality signal")
	cmd.Flags().IntVar(&opts.CacheSize, "cache-size", 128,
		"capacity of the in-process cache, in images")
	cmd.MarkFlagRequired("output")
	return cmd
}

// getDelegate resolves the fetch outcome to the command.
type getDelegate struct {
	loaded chan *asset.Asset
	failed chan error
}

func (d *getDelegate) ImageLoaded(a *asset.Asset) {
	select {
	case d.loaded <- a:
	default:
	}
}

func (d *getDelegate) FetchFailed(err error) {
	select {
	case d.failed <- err:
	default:
	}
}

func (opts *getOpts) RunE(cmd *cobra.Command, args []string) error {
	url := args[0]

	var imageCache cache.Cache
	if opts.Memcached != "" {
		mc := cache.NewMemcached(cache.MemcachedConfig{
			Addrs:   strings.Fields(opts.Memcached),
			Timeout: time.Second,
			Expiry:  time.Hour,
			Logger:  opts.Logger,
		})
		defer mc.Stop()
		imageCache = mc
	} else {
		m, err := cache.NewMemory(opts.CacheSize, opts.Logger)
		if err != nil {
			return err
		}
		defer m.Stop()
		imageCache = m
	}

	downloader := download.NewHTTP(download.HTTPConfig{
		Timeout: opts.Timeout,
		Logger:  opts.Logger,
	})
	defer downloader.Stop()

	delegate := &getDelegate{
		loaded: make(chan *asset.Asset, 1),
		failed: make(chan error, 1),
	}
	loader := imageload.New(imageload.Config{
		Cache:      imageCache,
		Downloader: downloader,
		Delegate:   delegate,
		AssetsDir:  opts.AssetsDir,
		Logger:     opts.Logger,
	})
	defer loader.Close()

	var bar *pb.ProgressBar
	if opts.Progress {
		bar = pb.New(100)
		bar.Start()
		defer bar.Finish()
	}

	loader.SetShouldRenderProgressImages(true)
	loader.SetVisible(true)
	loader.SetURL(url, true)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(opts.Timeout + time.Second)

	for {
		select {
		case a := <-delegate.loaded:
			if bar != nil {
				bar.SetCurrent(100)
			}
			return os.WriteFile(opts.Output, a.Data, 0644)
		case err := <-delegate.failed:
			return err
		case <-ticker.C:
			if bar != nil {
				q := loader.Quality()
				if q > 0.99 && !loader.Loaded() {
					// Quality jumps to its expect-full sentinel the moment a
					// URL is assigned; don't show 100% before the data is in.
					q = 0.99
				}
				bar.SetCurrent(int64(q * 100))
			}
		case <-deadline:
			return errors.Errorf("timed out fetching %s", url)
		}
	}
}
