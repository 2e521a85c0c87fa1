package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/copypad/pkg/room"
	"github.com/astromechza/copypad/pkg/store"
)

// peer is one chat connection as seen by its Room. Every message in either
// direction is the whole document text.
type peer struct {
	id     string
	conn   *websocket.Conn
	outbox *room.Slot

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{
		id:     uuid.NewString(),
		conn:   conn,
		outbox: room.NewSlot(),
		closed: make(chan struct{}),
	}
}

func (p *peer) ID() string {
	return p.id
}

// Deliver never blocks. A peer that falls behind skips straight to the
// newest text.
func (p *peer) Deliver(text string) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	p.outbox.Put(text)
	return true
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *peer) writeLoop(writeTimeout, pingInterval time.Duration) error {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-p.outbox.Ready():
			text, ok := p.outbox.Take()
			if !ok {
				continue
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				return err
			}
		case <-t.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case <-p.closed:
			return nil
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

func (s *Server) chat(writer http.ResponseWriter, request *http.Request) {
	path := mux.Vars(request)["path"]
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "path", path, "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxTextBytes)
	// A peer that answers neither pings nor sends anything is gone.
	readTimeout := 2 * s.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	p := newPeer(conn)
	log := slog.With("path", path, "peer", p.id)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.close()
		if err := p.writeLoop(s.cfg.WriteTimeout, s.cfg.PingInterval); err != nil {
			log.Warn("failed to write message", "err", err)
			// Unblocks the read loop below.
			_ = conn.Close()
		}
	}()
	defer wg.Wait()
	defer p.close()

	r, _, err := s.registry.Join(request.Context(), path, p)
	if err != nil {
		log.Error("failed to join room", "err", err)
		code := websocket.CloseInternalServerErr
		if errors.Is(err, store.ErrInvalidPath) {
			code = websocket.ClosePolicyViolation
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "failed to open document"), time.Now().Add(s.cfg.WriteTimeout))
		return
	}
	defer r.Leave(p)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) {
				log.Info("chat closed")
			} else {
				log.Warn("failed to read message", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if mt != websocket.TextMessage {
			continue
		}
		if err := r.Submit(context.Background(), p, string(msg)); err != nil {
			log.Error("failed to submit edit", "err", err)
			return
		}
	}
}
