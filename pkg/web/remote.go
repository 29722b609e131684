package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-parley/pkg/engine"
	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/protocol"
	"github.com/teslashibe/go-parley/pkg/schema"
)

// ErrNotConnected is returned when sending to an unknown connection.
var ErrNotConnected = errors.New("web: remote not connected")

// RemoteConnection is one connected remote-control client.
type RemoteConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	out      chan []byte
	lastSeen atomic.Int64
}

// LastSeen returns when the client last sent a message.
func (r *RemoteConnection) LastSeen() time.Time {
	return time.UnixMilli(r.lastSeen.Load())
}

// Send queues msg for the connection. It reports false when the queue is
// full and the message was dropped.
func (r *RemoteConnection) Send(msg *protocol.Message) (bool, error) {
	data, err := msg.Bytes()
	if err != nil {
		return false, err
	}
	select {
	case r.out <- data:
		return true, nil
	default:
		return false, nil
	}
}

func (r *RemoteConnection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-r.out:
			r.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := r.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// Remote is the remote-control websocket channel. Clients submit
// utterances, answer confirmations and toggle refinement; every pipeline
// event is forwarded to them.
type Remote struct {
	engine *engine.Engine
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*RemoteConnection

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	dropped          atomic.Uint64
}

// NewRemote creates the remote-control channel for eng.
func NewRemote(eng *engine.Engine, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		engine: eng,
		logger: logger.With("component", "web.remote"),
		conns:  make(map[string]*RemoteConnection),
	}
}

// RegisterRoutes registers the socket on r at /remote and /remote/:id.
// Callers guard the path with an upgrade check.
func (rm *Remote) RegisterRoutes(r fiber.Router) {
	r.Get("/remote", websocket.New(rm.handle))
	r.Get("/remote/:id", websocket.New(rm.handle))
}

// Attach forwards every event on bus to connected clients.
func (rm *Remote) Attach(bus *events.Bus) int {
	return bus.Subscribe(events.Wildcard, func(ev schema.RunEvent) {
		if rm.Count() == 0 {
			return
		}
		msg, err := protocol.NewEventMessage(ev)
		if err != nil {
			rm.logger.Warn("encode event failed", "type", ev.Type, "error", err)
			return
		}
		rm.Broadcast(msg)
	})
}

func (rm *Remote) handle(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &RemoteConnection{
		ID:        id,
		Conn:      c,
		Connected: time.Now(),
		out:       make(chan []byte, 128),
	}
	conn.lastSeen.Store(conn.Connected.UnixMilli())

	rm.mu.Lock()
	rm.conns[id] = conn
	count := len(rm.conns)
	rm.mu.Unlock()
	rm.logger.Info("remote connected", "id", id, "total", count)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn.writeLoop(ctx)
	}()

	defer func() {
		rm.mu.Lock()
		if rm.conns[id] == conn {
			delete(rm.conns, id)
		}
		count := len(rm.conns)
		rm.mu.Unlock()
		cancel()
		wg.Wait()
		rm.logger.Info("remote disconnected", "id", id, "total", count)
	}()

	if hello, err := protocol.NewHelloMessage(id, ""); err == nil {
		conn.Send(hello)
	}

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			rm.logger.Debug("remote read ended", "id", id, "error", err)
			return
		}
		conn.lastSeen.Store(time.Now().UnixMilli())
		rm.messagesReceived.Add(1)
		rm.handleMessage(ctx, conn, data)
	}
}

// handleMessage processes one client message. Utterances run on their own
// goroutine so the same socket can answer the confirmation they trigger.
func (rm *Remote) handleMessage(ctx context.Context, conn *RemoteConnection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		rm.reply(conn, "", errorMessage(err))
		return
	}

	switch msg.Type {
	case protocol.TypeUtterance:
		u, err := msg.GetUtteranceData()
		if err != nil {
			rm.reply(conn, msg.ID, errorMessage(err))
			return
		}
		utt, err := schema.NewUtterance(u.Text, u.Mode)
		if err != nil {
			rm.reply(conn, msg.ID, errorMessage(err))
			return
		}
		utt.Context = u.Context
		go func(id string) {
			res, err := rm.engine.Process(ctx, engine.Request{Utterance: utt, SkipConfirmation: u.SkipConfirmation})
			if err != nil {
				rm.reply(conn, id, errorMessage(err))
				return
			}
			out, err := protocol.NewResultMessage(res)
			if err != nil {
				rm.reply(conn, id, errorMessage(err))
				return
			}
			rm.reply(conn, id, out)
		}(msg.ID)

	case protocol.TypeConfirm:
		cd, err := msg.GetConfirmData()
		if err != nil {
			rm.reply(conn, msg.ID, errorMessage(err))
			return
		}
		outcome, ok := schema.ParseOutcome(string(cd.Action))
		if !ok {
			rm.reply(conn, msg.ID, errorMessage(errors.New("unknown confirmation action")))
			return
		}
		ack, _ := protocol.NewAckMessage(rm.engine.OverrideConfirmation(outcome))
		rm.reply(conn, msg.ID, ack)

	case protocol.TypeRefiner:
		rd, err := msg.GetRefinerData()
		if err != nil {
			rm.reply(conn, msg.ID, errorMessage(err))
			return
		}
		rm.engine.SetRefinerEnabled(rd.Enabled)
		ack, _ := protocol.NewAckMessage(true)
		rm.reply(conn, msg.ID, ack)

	case protocol.TypeStatus:
		sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		st := rm.engine.Status(sctx, 10)
		cancel()
		out, err := protocol.NewMessage(protocol.TypeStatus, st)
		if err != nil {
			rm.reply(conn, msg.ID, errorMessage(err))
			return
		}
		rm.reply(conn, msg.ID, out)

	case protocol.TypePing:
		pong, _ := protocol.NewPongMessage(msg.ID, msg.Timestamp, time.Now().UnixMilli())
		rm.reply(conn, msg.ID, pong)

	default:
		rm.reply(conn, msg.ID, errorMessage(errors.New("unsupported message type "+string(msg.Type))))
	}
}

func errorMessage(err error) *protocol.Message {
	msg, _ := protocol.NewErrorMessage(err)
	return msg
}

func (rm *Remote) reply(conn *RemoteConnection, id string, msg *protocol.Message) {
	if msg == nil {
		return
	}
	rm.send(conn, msg.WithID(id))
}

func (rm *Remote) send(conn *RemoteConnection, msg *protocol.Message) {
	ok, err := conn.Send(msg)
	switch {
	case err != nil:
		rm.logger.Warn("encode message failed", "id", conn.ID, "error", err)
	case !ok:
		rm.dropped.Add(1)
		rm.logger.Warn("remote queue full, dropping message", "id", conn.ID, "type", msg.Type)
	default:
		rm.messagesSent.Add(1)
	}
}

// SendTo sends msg to one connection.
func (rm *Remote) SendTo(id string, msg *protocol.Message) error {
	rm.mu.RLock()
	conn, ok := rm.conns[id]
	rm.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	rm.send(conn, msg)
	return nil
}

// Broadcast sends msg to every connection.
func (rm *Remote) Broadcast(msg *protocol.Message) {
	rm.mu.RLock()
	conns := make([]*RemoteConnection, 0, len(rm.conns))
	for _, c := range rm.conns {
		conns = append(conns, c)
	}
	rm.mu.RUnlock()

	for _, c := range conns {
		rm.send(c, msg)
	}
}

// Count returns the number of connected clients.
func (rm *Remote) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.conns)
}

// RemoteStats contains channel statistics.
type RemoteStats struct {
	Connections      int    `json:"connections"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Dropped          uint64 `json:"dropped"`
}

// Stats returns channel statistics.
func (rm *Remote) Stats() RemoteStats {
	return RemoteStats{
		Connections:      rm.Count(),
		MessagesReceived: rm.messagesReceived.Load(),
		MessagesSent:     rm.messagesSent.Load(),
		Dropped:          rm.dropped.Load(),
	}
}
