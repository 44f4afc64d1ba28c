package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cranesim.dev/internal/protocol"
	"cranesim.dev/internal/sim/engine"
)

// Server streams read-only display state to renderers over websocket: the
// interpolated crane position, the attachment flag, and grid heights, once
// per engine tick. Observers never mutate engine state.
type Server struct {
	engine *engine.Engine
	cfg    Params
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

// Params is the static world configuration echoed to observers at
// bootstrap so a renderer can size its scene before the first tick frame.
type Params struct {
	MoveSpeed         int
	AttachDetachSpeed int
}

func NewServer(e *engine.Engine, cfg Params, logger *log.Logger) *Server {
	return &Server{
		engine: e,
		cfg:    cfg,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		size := s.engine.WarehouseSize()
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			Tick:            s.engine.CurrentTick(),
			WorldParams: protocol.WorldParams{
				Size:              size.ToArray(),
				TickRateHz:        s.engine.TickRateHz(),
				MoveSpeed:         s.cfg.MoveSpeed,
				AttachDetachSpeed: s.cfg.AttachDetachSpeed,
			},
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if base.Type != protocol.TypeSubscribe || base.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			return
		}
		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		s.log.Printf("observer %s connected from %s", sid, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		settings := make(chan protocol.SubscribeMsg, 1)

		// Writer: one TICK frame per engine tick.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.streamTicks(ctx, conn, sub, settings)
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeSubscribe || base.ProtocolVersion != protocol.Version {
				continue
			}
			var update protocol.SubscribeMsg
			if err := json.Unmarshal(msg, &update); err != nil {
				continue
			}
			normalizeSubscribe(&update)
			select {
			case settings <- update:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("observer %s disconnected", sid)
	}
}

func (s *Server) streamTicks(ctx context.Context, conn *websocket.Conn, sub protocol.SubscribeMsg, settings <-chan protocol.SubscribeMsg) error {
	interval := time.Second / time.Duration(s.engine.TickRateHz())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frame uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.engine.Terminated():
			return nil
		case sub = <-settings:
		case <-ticker.C:
			frame++
			withHeights := sub.HeightsEvery <= 1 || frame%uint64(sub.HeightsEvery) == 0
			snap := s.engine.Snapshot(withHeights)
			msg := protocol.TickMsg{
				Type:            protocol.TypeTick,
				ProtocolVersion: protocol.Version,
				Tick:            snap.Tick,
				Running:         snap.Running,
				Crane:           snap.Crane.ToArray(),
				Attached:        snap.Attached,
				ElapsedMs:       snap.ElapsedMs,
				Cursor:          snap.Cursor,
				Commands:        snap.Commands,
				Heights:         snap.Heights,
			}
			b, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
		}
	}
}

func normalizeSubscribe(sub *protocol.SubscribeMsg) {
	if sub.HeightsEvery < 0 {
		sub.HeightsEvery = 0
	}
	if sub.HeightsEvery > 600 {
		sub.HeightsEvery = 600
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
