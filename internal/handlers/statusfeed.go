package handlers

import (
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beaconhq/beacon/internal/services"
)

// StatusFeedHandler streams live status summaries to subscribers over
// WebSocket. Each connection is scoped to one tenant's public status page;
// tenants with a disabled page get no feed.
type StatusFeedHandler struct {
	upgrader websocket.Upgrader
	statuses *services.StatusService
	interval time.Duration

	mu    sync.Mutex
	conns map[*websocket.Conn]uint // conn -> tenant id
	stop  chan struct{}
	once  sync.Once
}

// NewStatusFeedHandler creates a new status feed handler. interval is how
// often connected clients receive a fresh summary.
func NewStatusFeedHandler(statuses *services.StatusService, interval time.Duration) *StatusFeedHandler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &StatusFeedHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Public feed, origin does not gate access
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		statuses: statuses,
		interval: interval,
		conns:    make(map[*websocket.Conn]uint),
		stop:     make(chan struct{}),
	}
}

// SetupRoutes configures WebSocket routes
func (h *StatusFeedHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/status", h.HandleWebSocket)
}

// HandleWebSocket subscribes a client to the tenant's status feed.
// The tenant is selected with the ?tenant_id query parameter.
func (h *StatusFeedHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseUint(r.URL.Query().Get("tenant_id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid tenant_id", http.StatusBadRequest)
		return
	}

	// The feed only serves tenants whose page is public.
	page, err := h.statuses.PublicPage(uint(tenantID))
	if err != nil {
		if services.IsNotFound(err) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Printf("Error loading status page for tenant %d: %v", tenantID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Status feed upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = uint(tenantID)
	h.mu.Unlock()
	log.Printf("Status feed subscriber connected for tenant %d", tenantID)

	// Send the current snapshot immediately so the client does not wait a
	// full interval for its first update.
	if err := conn.WriteJSON(page); err != nil {
		h.drop(conn)
		return
	}

	// Drain reads so control frames are handled; clients never send data.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Start begins the periodic broadcast loop
func (h *StatusFeedHandler) Start() {
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.broadcast()
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop halts the broadcast loop and closes all connections
func (h *StatusFeedHandler) Stop() {
	h.once.Do(func() { close(h.stop) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]uint)
}

// broadcast pushes a fresh summary to every subscriber, computing each
// tenant's page once per tick
func (h *StatusFeedHandler) broadcast() {
	h.mu.Lock()
	subscribers := make(map[*websocket.Conn]uint, len(h.conns))
	for conn, tenantID := range h.conns {
		subscribers[conn] = tenantID
	}
	h.mu.Unlock()

	pages := make(map[uint]*services.PublicPage)
	for conn, tenantID := range subscribers {
		page, ok := pages[tenantID]
		if !ok {
			var err error
			page, err = h.statuses.PublicPage(tenantID)
			if err != nil {
				log.Printf("Error refreshing status page for tenant %d: %v", tenantID, err)
				continue
			}
			pages[tenantID] = page
		}
		if err := conn.WriteJSON(page); err != nil {
			h.drop(conn)
		}
	}
}

func (h *StatusFeedHandler) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}
