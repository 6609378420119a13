package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"gitea.kood.tech/petrkubec/matchmaker/matchmaking"
	"gitea.kood.tech/petrkubec/matchmaker/resource"
)

// ServerEvent is a message pushed to dashboard sockets.
type ServerEvent struct {
	Type string `json:"type"` // "state"
	Data any    `json:"data,omitempty"`
}

// stateView is the wire form of a query state.
type stateView struct {
	Data      any       `json:"data"`
	IsLoading bool      `json:"isLoading"`
	Error     string    `json:"error,omitempty"`
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func viewOf[T any](s resource.State[T]) stateView {
	v := stateView{Data: s.Data, IsLoading: s.IsLoading, Stale: s.Stale, FetchedAt: s.FetchedAt}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}

func dashboardHandler(svc *matchmaking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Dashboard(r.Context(), mux.Vars(r)["userID"])
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// Client is one dashboard socket.
type Client struct {
	userID string
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// Hub tracks open dashboard sockets so they can be closed on shutdown.
type Hub struct {
	clientsByUser map[string]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByUser: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

// count returns the number of sockets open for userID.
func (h *Hub) count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser[userID])
}

// closeAll stops every socket's stream; the writers send a close frame.
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, peers := range h.clientsByUser {
		for c := range peers {
			c.cancel()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// For development: allow Vite dev origin ws://localhost:5173
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsDashboardHandler streams every state transition of a user's dashboard.
func wsDashboardHandler(svc *matchmaking.Service, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]
		q, err := svc.DashboardQuery(userID)
		if err != nil {
			writeErr(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			glog.Warningf("[ws] upgrade error for user %s: %v", userID, err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		client := &Client{userID: userID, conn: conn, cancel: cancel}
		hub.register(client)
		glog.V(1).Infof("[ws] dashboard %s connected", userID)

		go clientWriter(client, q.Watch(ctx))
		clientReader(hub, client)
	}
}

// clientReader only services control frames; the dashboard socket is
// push-only. It returns when the peer goes away.
func clientReader(hub *Hub, c *Client) {
	defer func() {
		hub.unregister(c)
		c.cancel()
		c.conn.Close()
		glog.V(1).Infof("[ws] dashboard %s disconnected", c.userID)
	}()

	c.conn.SetReadLimit(1 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func clientWriter(c *Client, states <-chan resource.State[matchmaking.Dashboard]) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case s, ok := <-states:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(ServerEvent{Type: "state", Data: viewOf(s)}); err != nil {
				return
			}
		case <-ticker.C:
			// ping to keep the connection alive
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
