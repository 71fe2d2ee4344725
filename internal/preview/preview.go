// Package preview streams rendered frames to browsers over websockets.
//
// A Server keeps the latest frame as an encoded PNG and pushes every new
// frame to all connected clients. Slow clients drop intermediate frames and
// always receive the newest one.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gogpu/buddhabrot"
)

const writeTimeout = 5 * time.Second

// Server broadcasts frames to websocket clients.
type Server struct {
	log     *slog.Logger
	origins []string

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	frames  int
}

type client struct {
	// frames holds at most one pending frame; newer frames replace it.
	frames chan []byte
}

// NewServer creates a preview server. originPatterns restricts the origins
// allowed to connect; empty means same-origin only. A nil logger discards
// everything.
func NewServer(log *slog.Logger, originPatterns ...string) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		log:     log,
		origins: originPatterns,
		clients: make(map[*client]struct{}),
	}
}

// Publish encodes f and queues it for every client.
func (s *Server) Publish(f *buddhabrot.Frame) error {
	var buf bytes.Buffer
	if err := f.EncodePNG(&buf); err != nil {
		return fmt.Errorf("preview: encode frame: %w", err)
	}
	data := buf.Bytes()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = data
	s.frames++
	for c := range s.clients {
		c.offer(data)
	}
	return nil
}

// offer replaces any pending frame with data without blocking.
func (c *client) offer(data []byte) {
	for {
		select {
		case c.frames <- data:
			return
		default:
		}
		select {
		case <-c.frames:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) register() *client {
	c := &client{frames: make(chan []byte, 1)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
	if s.latest != nil {
		c.frames <- s.latest
	}
	return c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// Handler returns the HTTP handler: the viewer page at "/", the latest frame
// at "/frame.png" and the websocket stream at "/ws".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/frame.png", s.serveFrame)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(viewerPage))
	})
	return mux
}

func (s *Server) serveFrame(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	data := s.latest
	s.mu.Unlock()
	if data == nil {
		http.Error(w, "no frame rendered yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.log.Warn("preview: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	c := s.register()
	defer s.unregister(c)
	s.log.Info("preview: client connected", "remote", r.RemoteAddr)

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("preview: client disconnected", "remote", r.RemoteAddr)
			return
		case data := <-c.frames:
			if err := s.write(ctx, conn, data); err != nil {
				s.log.Debug("preview: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageBinary, data)
}

// ListenAndServe serves the preview on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("preview: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the preview on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("preview: listening", "url", "http://"+ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("preview: %w", err)
	}
	return nil
}

const viewerPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>buddhabrot</title>
<style>
body { margin: 0; background: #000; display: flex; height: 100vh; align-items: center; justify-content: center; }
img { max-width: 100vw; max-height: 100vh; image-rendering: pixelated; }
</style>
</head>
<body>
<img id="frame" alt="">
<script>
const img = document.getElementById("frame");
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.binaryType = "blob";
  ws.onmessage = (ev) => {
    const url = URL.createObjectURL(ev.data);
    img.onload = () => URL.revokeObjectURL(url);
    img.src = url;
  };
  ws.onclose = () => setTimeout(connect, 1000);
}
connect();
</script>
</body>
</html>
`
