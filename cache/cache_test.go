package cache

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/pixelfeed/imageload/asset"
)

func testAsset(t *testing.T) *asset.Asset {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	a, err := asset.Decode(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestMemoryFetchDeliveryOrder(t *testing.T) {
	c, err := NewMemory(16, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	a := testAsset(t)
	n := 20
	for i := 0; i < n; i++ {
		if err := c.Put(fmt.Sprintf("http://example.com/%d", i), a); err != nil {
			t.Fatal(err)
		}
	}

	// Callbacks must arrive in FetchCached order, on one goroutine.
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		c.FetchCached(fmt.Sprintf("http://example.com/%d", i), func(got *asset.Asset) {
			if got == nil {
				t.Errorf("unexpected miss for %d", i)
			}
			order <- i
		})
	}

	for want := 0; want < n; want++ {
		select {
		case have := <-order:
			if want != have {
				t.Fatalf("want delivery %d, have %d", want, have)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
}

func TestMemoryMissAndClear(t *testing.T) {
	c, err := NewMemory(16, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if got := c.FetchCachedSync("http://example.com/none"); got != nil {
		t.Errorf("want miss, have %v", got)
	}

	a := testAsset(t)
	if err := c.Put("http://example.com/a", a); err != nil {
		t.Fatal(err)
	}
	if got := c.FetchCachedSync("http://example.com/a"); got != a {
		t.Errorf("want hit")
	}

	c.Clear("http://example.com/a")
	if got := c.FetchCachedSync("http://example.com/a"); got != nil {
		t.Errorf("want miss after clear, have %v", got)
	}

	miss := make(chan *asset.Asset, 1)
	c.FetchCached("http://example.com/a", func(got *asset.Asset) { miss <- got })
	select {
	case got := <-miss:
		if got != nil {
			t.Errorf("want async miss after clear, have %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestMemoryEviction(t *testing.T) {
	c, err := NewMemory(2, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	a := testAsset(t)
	for i := 0; i < 5; i++ {
		if err := c.Put(fmt.Sprintf("http://example.com/%d", i), a); err != nil {
			t.Fatal(err)
		}
	}
	if want, have := 2, c.Len(); want != have {
		t.Errorf("want %d, have %d", want, have)
	}
}
