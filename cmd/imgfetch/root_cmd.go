package main

import (
	"os"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"
)

type rootOpts struct {
	Memcached string
	Timeout   time.Duration
	Verbose   bool

	Logger log.Logger
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
imgfetch fetches images through the imageload coordinator.

Workflow:
  imgfetch get https://example.com/picture.jpg -o picture.jpg   # fetch over HTTP
  imgfetch get file:///srv/assets/logo.png -o logo.png          # read a local resource
  imgfetch get --memcached 127.0.0.1:11211 URL -o out.png       # with a shared cache
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:              "imgfetch",
		Long:             rootLongHelp,
		SilenceUsage:     true,
		PersistentPreRun: opts.PersistentPreRun,
	}
	cmd.PersistentFlags().StringVar(&opts.Memcached, "memcached", "",
		"space-separated host:port values of memcached servers to cache images in; empty means an in-process cache")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 60*time.Second,
		"give up on a fetch after this long")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"log collaborator activity to stderr")
	return cmd
}

func (opts *rootOpts) PersistentPreRun(cmd *cobra.Command, _ []string) {
	if opts.Verbose {
		opts.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	} else {
		opts.Logger = log.NewNopLogger()
	}
}
