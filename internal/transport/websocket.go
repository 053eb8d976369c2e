package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"dsoscope/internal/log"

	"github.com/gorilla/websocket"
)

const (
	// ScopePath is the endpoint renderers connect to.
	ScopePath = "/scope"

	writeWait      = 2 * time.Second
	broadcastQueue = 64
)

// WebSocketTransport implements the Transport interface for WebSocket connections.
// Messages are JSON encoded and broadcast to every connected client; a full
// queue drops the message rather than blocking the caller.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	server    *http.Server
}

// NewWebSocketTransport creates a WebSocketTransport and, unless addr is
// empty, starts serving on addr.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // renderers are served from anywhere on the bench
			},
		},
		mux:       http.NewServeMux(),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, broadcastQueue),
		done:      make(chan struct{}),
	}
	wst.mux.HandleFunc(ScopePath, wst.handleWebSocket)

	go wst.handleBroadcasts()
	if addr != "" {
		wst.start()
	}
	return wst
}

// Handle mounts an extra handler on the transport's mux.
func (wst *WebSocketTransport) Handle(pattern string, handler http.Handler) {
	wst.mux.Handle(pattern, handler)
}

// Handler returns the transport's mux.
func (wst *WebSocketTransport) Handler() http.Handler {
	return wst.mux
}

func (wst *WebSocketTransport) start() {
	wst.server = &http.Server{
		Addr:              wst.addr,
		Handler:           wst.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("WebSocketTransport: Starting server on %s", wst.addr)
		if err := wst.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	log.Infof("WebSocketTransport: Client connected, total: %d", total)

	// Clients never send; reading only detects the disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	if ok {
		conn.Close()
		log.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

// ClientCount returns the number of connected clients.
func (wst *WebSocketTransport) ClientCount() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// handleBroadcasts sends messages to all connected clients
func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(data); err != nil {
					log.Warnf("WebSocketTransport: Error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return ErrClosed
	default:
	}

	select {
	case wst.broadcast <- data:
	default:
		log.Debugf("WebSocketTransport: queue full, dropping %T", data)
	}
	return nil
}

// Close disconnects every client and shuts the server down.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		log.Infof("WebSocketTransport: Closing server")
		close(wst.done)

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		clear(wst.clients)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
