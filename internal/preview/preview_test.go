package preview

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gogpu/buddhabrot"
)

func testFrame(w, h int, v uint8) *buddhabrot.Frame {
	f := buddhabrot.NewFrame(w, h, 1)
	for i := range f.Pix() {
		f.Pix()[i] = v
	}
	return f
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readFrame(t *testing.T, ctx context.Context, c *websocket.Conn) (width, height int, gray uint8) {
	t.Helper()
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageBinary {
		t.Fatalf("message type = %v, want binary", typ)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode PNG: %v", err)
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	b := img.Bounds()
	return b.Dx(), b.Dy(), uint8(r >> 8)
}

func TestPublishReachesClient(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := dial(t, ctx, srv)

	if err := s.Publish(testFrame(6, 4, 200)); err != nil {
		t.Fatal(err)
	}
	w, h, v := readFrame(t, ctx, c)
	if w != 6 || h != 4 || v != 200 {
		t.Errorf("frame = %dx%d value %d, want 6x4 value 200", w, h, v)
	}
}

func TestLateClientGetsLatestFrame(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	if err := s.Publish(testFrame(2, 2, 10)); err != nil {
		t.Fatal(err)
	}
	if err := s.Publish(testFrame(3, 3, 20)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := dial(t, ctx, srv)

	w, h, v := readFrame(t, ctx, c)
	if w != 3 || h != 3 || v != 20 {
		t.Errorf("frame = %dx%d value %d, want the latest 3x3 value 20", w, h, v)
	}
}

func TestClientOfferKeepsNewest(t *testing.T) {
	c := &client{frames: make(chan []byte, 1)}
	c.offer([]byte("a"))
	c.offer([]byte("b"))
	c.offer([]byte("c"))
	if got := string(<-c.frames); got != "c" {
		t.Errorf("pending frame = %q, want %q", got, "c")
	}
	select {
	case extra := <-c.frames:
		t.Errorf("unexpected extra frame %q", extra)
	default:
	}
}

func TestFrameEndpoint(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame.png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status before first frame = %d, want 404", resp.StatusCode)
	}

	if err := s.Publish(testFrame(5, 5, 99)); err != nil {
		t.Fatal(err)
	}
	resp, err = http.Get(srv.URL + "/frame.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 5 {
		t.Errorf("width = %d, want 5", img.Bounds().Dx())
	}
}

func TestIndexPage(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "/ws") {
		t.Error("viewer page does not open the websocket")
	}

	resp2, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp2.StatusCode)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil).Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
