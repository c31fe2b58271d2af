package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/radar/internal/domain"
	"github.com/pscheid92/radar/internal/metrics"
)

const (
	commandTimeout    = 5 * time.Second  // Actor command timeout
	stopTimeout       = 10 * time.Second // Graceful shutdown timeout
	commandBufferSize = 1024
)

var (
	ErrHubStopped        = errors.New("hub stopped")
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	conn         domain.ConnID
	socket       *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseHubCmd
	conn domain.ConnID
}

type sendCmd struct {
	baseHubCmd
	conn domain.ConnID
	data []byte
}

type clientCountCmd struct {
	baseHubCmd
	replyChannel chan int
}

var _ domain.Transport = (*Hub)(nil)

// Hub owns every live websocket and delivers frames to them. All bookkeeping
// happens on a single goroutine; each socket has its own writer goroutine so
// a slow peer never holds up the others.
type Hub struct {
	cmdCh       chan hubCmd
	clock       clockwork.Clock
	clients     map[domain.ConnID]*clientWriter
	quit        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	stopTimeout time.Duration
}

func NewHub(clock clockwork.Clock) *Hub {
	h := &Hub{
		cmdCh:       make(chan hubCmd, commandBufferSize),
		clock:       clock,
		clients:     make(map[domain.ConnID]*clientWriter),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	go h.run()
	return h
}

// push hands a command to the actor unless the hub is shutting down.
func (h *Hub) push(cmd hubCmd) bool {
	select {
	case <-h.quit:
		return false
	default:
	}

	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.quit:
		return false
	}
}

// Register starts a writer for socket under conn.
func (h *Hub) Register(conn domain.ConnID, socket *websocket.Conn) error {
	errCh := make(chan error, 1)
	if !h.push(registerCmd{conn: conn, socket: socket, errorChannel: errCh}) {
		return ErrHubStopped
	}

	// Use timeout to prevent blocking forever if the hub is stuck
	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister stops the writer for conn and closes its socket. Unknown
// connections are ignored.
func (h *Hub) Unregister(conn domain.ConnID) {
	h.push(unregisterCmd{conn: conn})
}

// Send queues data for conn. It never blocks on the peer and silently skips
// connections that are unknown or already gone.
func (h *Hub) Send(conn domain.ConnID, data []byte) {
	h.push(sendCmd{conn: conn, data: data})
}

// ClientCount returns the number of registered connections.
// Returns -1 if the command times out or the hub is stopped.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	if !h.push(clientCountCmd{replyChannel: replyCh}) {
		return -1
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every connection with a normal-closure frame and waits for the
// actor to exit or the stop timeout to pass. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)

		timeout := h.clock.NewTimer(h.stopTimeout)
		defer timeout.Stop()

		select {
		case <-h.done:
			slog.Info("Hub stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Hub stop timeout exceeded, forcing exit", "timeout", h.stopTimeout)
			metrics.HubStopTimeoutsTotal.Inc()
		}
	})
}

func (h *Hub) run() {
	defer close(h.done)

	// Panic recovery wrapper
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			metrics.HubPanicsTotal.Inc()

			// Attempt graceful cleanup
			h.closeAllClients("hub failure")
		}
	}()

	// Track command channel depth every second
	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))

			if depth > cap(h.cmdCh)*8/10 {
				slog.Warn("Command channel near capacity",
					"depth", depth,
					"capacity", cap(h.cmdCh),
				)
			}

		case cmd := <-h.cmdCh:
			h.handle(cmd)

		case <-h.quit:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handle(cmd hubCmd) {
	switch c := cmd.(type) {
	case registerCmd:
		h.handleRegister(c)
	case unregisterCmd:
		h.handleUnregister(c)
	case sendCmd:
		h.handleSend(c)
	case clientCountCmd:
		c.replyChannel <- len(h.clients)
	default:
		slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	if _, exists := h.clients[c.conn]; exists {
		c.errorChannel <- ErrAlreadyRegistered
		return
	}

	h.clients[c.conn] = newClientWriter(c.socket, h.clock)
	metrics.HubConnectedClients.Set(float64(len(h.clients)))

	slog.Debug("Client registered", "conn_id", c.conn.String(), "total_clients", len(h.clients))
	c.errorChannel <- nil
}

func (h *Hub) handleUnregister(c unregisterCmd) {
	cw, exists := h.clients[c.conn]
	if !exists {
		return
	}

	cw.stop()
	delete(h.clients, c.conn)
	metrics.HubConnectedClients.Set(float64(len(h.clients)))

	slog.Debug("Client unregistered", "conn_id", c.conn.String(), "remaining_clients", len(h.clients))
}

// handleSend enqueues without blocking. A client whose buffer is full is
// evicted: closing its socket ends its read loop, which runs the regular
// disconnect path.
func (h *Hub) handleSend(c sendCmd) {
	cw, exists := h.clients[c.conn]
	if !exists {
		return
	}

	select {
	case cw.sendChannel <- c.data:
	default:
		slog.Warn("Disconnecting slow client", "conn_id", c.conn.String())
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(unregisterCmd{conn: c.conn})
	}
}

func (h *Hub) handleStop() {
	total := len(h.clients)
	slog.Info("Hub shutting down", "total_clients", total)

	h.closeAllClients("server shutting down")

	// Release callers still waiting on a register reply
	for {
		select {
		case cmd := <-h.cmdCh:
			if c, ok := cmd.(registerCmd); ok {
				_ = c.socket.Close()
				c.errorChannel <- ErrHubStopped
			}
		default:
			slog.Info("Hub shutdown complete", "disconnected_clients", total)
			return
		}
	}
}

// closeAllClients closes all client connections with the given reason.
// Used during panic recovery and graceful shutdown.
func (h *Hub) closeAllClients(reason string) {
	for conn, cw := range h.clients {
		cw.stopGraceful(reason)
		delete(h.clients, conn)
	}
	metrics.HubConnectedClients.Set(0)
}
