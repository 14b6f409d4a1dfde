package asset

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gifBytes(t *testing.T, frames int) []byte {
	t.Helper()
	g := &gif.GIF{}
	palette := color.Palette{color.Black, color.White}
	for i := 0; i < frames; i++ {
		g.Image = append(g.Image, image.NewPaletted(image.Rect(0, 0, 2, 2), palette))
		g.Delay = append(g.Delay, 5)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	for _, tc := range []struct {
		data []byte
		want Format
	}{
		{pngBytes(t), FormatPNG},
		{gifBytes(t, 1), FormatGIF},
		{[]byte("\xff\xd8\xff\xe0 jfif"), FormatJPEG},
		{append([]byte("RIFF\x00\x00\x00\x00WEBP"), []byte("VP8 ")...), FormatWebP},
		{[]byte("not an image"), FormatUnknown},
		{nil, FormatUnknown},
	} {
		assert.Equal(t, tc.want, Sniff(tc.data), "format %s", tc.want)
	}
}

func TestDecode(t *testing.T) {
	a, err := Decode(pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), a.Image.Bounds())
	assert.NotEmpty(t, a.Data)

	_, err = Decode([]byte("garbage"))
	assert.Error(t, err)
}

func TestIsAnimated(t *testing.T) {
	assert.False(t, IsAnimated(pngBytes(t)))
	assert.False(t, IsAnimated(gifBytes(t, 1)))
	assert.True(t, IsAnimated(gifBytes(t, 3)))

	// Hand-built VP8X header with the animation bit set.
	webp := append([]byte("RIFF\x00\x00\x00\x00WEBPVP8X"), 0, 0, 0, 0, 0x02, 0, 0, 0, 0)
	assert.True(t, IsAnimated(webp))
	webp[20] = 0
	assert.False(t, IsAnimated(webp))
}

func TestDecodeAnimated(t *testing.T) {
	anim, err := DecodeAnimated(gifBytes(t, 3))
	require.NoError(t, err)
	assert.Len(t, anim.Frames, 3)
	assert.Len(t, anim.Delays, 3)
	assert.Equal(t, 150, int(anim.Duration().Milliseconds()))

	poster := anim.Poster()
	require.NotNil(t, poster)
	assert.Equal(t, anim.Frames[0], poster.Image)

	_, err = DecodeAnimated(pngBytes(t))
	assert.Error(t, err)

	_, err = DecodeAnimated(gifBytes(t, 1))
	assert.Error(t, err)
}
