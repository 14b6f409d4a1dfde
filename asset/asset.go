// Package asset provides the image payload types passed between the loader
// and its collaborators, plus format sniffing and decoding.
package asset

import (
	"bytes"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"
)

// Asset is a decoded still image together with the bytes it was decoded from.
type Asset struct {
	Image image.Image
	Data  []byte
}

// Animated is a decoded animation. Frames and Delays are parallel.
type Animated struct {
	Frames []image.Image
	Delays []time.Duration
	Data   []byte
}

// Duration is the total play time of one loop of the animation.
func (a *Animated) Duration() time.Duration {
	var d time.Duration
	for _, delay := range a.Delays {
		d += delay
	}
	return d
}

// Poster returns the first frame as a still asset, for display while (or
// instead of) animating.
func (a *Animated) Poster() *Asset {
	if len(a.Frames) == 0 {
		return nil
	}
	return &Asset{Image: a.Frames[0], Data: a.Data}
}

// Format identifies an encoded image format by its magic bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatGIF
	FormatPNG
	FormatJPEG
	FormatWebP
)

func (f Format) String() string {
	switch f {
	case FormatGIF:
		return "gif"
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatWebP:
		return "webp"
	}
	return "unknown"
}

var (
	magicGIF  = []byte("GIF8")
	magicPNG  = []byte("\x89PNG\r\n\x1a\n")
	magicJPEG = []byte("\xff\xd8\xff")
	magicRIFF = []byte("RIFF")
	magicWEBP = []byte("WEBP")
)

// Sniff identifies the format of encoded image data from its leading bytes.
func Sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, magicGIF):
		return FormatGIF
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case len(data) >= 12 && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWEBP):
		return FormatWebP
	}
	return FormatUnknown
}

// Decode decodes data as a still image. GIF, PNG and JPEG come from the
// standard library; WebP is registered via x/image.
func Decode(data []byte) (*Asset, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	return &Asset{Image: img, Data: data}, nil
}

// IsAnimated reports whether data is an animation rather than a still image.
// For GIF this requires a full parse; for WebP the VP8X animation flag is
// enough.
func IsAnimated(data []byte) bool {
	switch Sniff(data) {
	case FormatGIF:
		g, err := gif.DecodeAll(bytes.NewReader(data))
		return err == nil && len(g.Image) > 1
	case FormatWebP:
		// RIFF(4) size(4) WEBP(4) VP8X(4) chunklen(4) flags(1)
		return len(data) >= 21 && bytes.Equal(data[12:16], []byte("VP8X")) && data[20]&0x02 != 0
	}
	return false
}

// DecodeAnimated decodes an animation. Only GIF is supported; animated WebP
// is detected by IsAnimated but cannot be decoded here, so callers should
// fall back to a still decode of the first frame where possible.
func DecodeAnimated(data []byte) (*Animated, error) {
	if Sniff(data) != FormatGIF {
		return nil, errors.Errorf("decoding animation: unsupported format %s", Sniff(data))
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding animated gif")
	}
	if len(g.Image) < 2 {
		return nil, errors.New("decoding animation: single frame")
	}
	anim := &Animated{
		Frames: make([]image.Image, len(g.Image)),
		Delays: make([]time.Duration, len(g.Image)),
		Data:   data,
	}
	for i, frame := range g.Image {
		anim.Frames[i] = frame
		// GIF delays are in hundredths of a second.
		anim.Delays[i] = time.Duration(g.Delay[i]) * 10 * time.Millisecond
	}
	return anim, nil
}
