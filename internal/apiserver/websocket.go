package apiserver

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coldbell/solpool/internal/metrics"
	"github.com/gorilla/websocket"
)

type websocketEnvelope struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	TS    int64  `json:"ts"`
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.ContainsFunc(s.cfg.AllowedOrigins, func(allowed string) bool {
		return strings.EqualFold(allowed, origin)
	})
}

// handleWebsocket pushes the pool view once on connect and again after every
// session state change.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		return s.isOriginAllowed(strings.TrimSpace(req.Header.Get("Origin")))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := s.monitor.Subscribe()
	defer unsubscribe()

	readErrCh := make(chan error, 1)
	go websocketReadLoop(conn, readErrCh)

	if err := s.writeSnapshot(conn); err != nil {
		return
	}
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				s.logger.Debug("websocket read loop ended", "err", err)
			}
			return
		case <-updates:
			if err := s.writeSnapshot(conn); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Service) writeSnapshot(conn *websocket.Conn) error {
	return writeWebsocketJSON(conn, websocketEnvelope{
		Type: "pool",
		Data: s.poolView(),
		TS:   s.clock.Now().Unix(),
	})
}

// websocketReadLoop drains client frames so close and pong frames are
// processed. Clients have nothing to send.
func websocketReadLoop(conn *websocket.Conn, readErrCh chan<- error) {
	conn.SetReadLimit(4096)
	if err := conn.SetReadDeadline(time.Now().Add(90 * time.Second)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		})
	}
	for {
		if _, _, err := conn.NextReader(); err != nil {
			readErrCh <- err
			return
		}
	}
}

func writeWebsocketJSON(conn *websocket.Conn, payload websocketEnvelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}
