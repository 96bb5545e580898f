// Package signal is the room server's websocket side: clients register after joining and relay messages to their peer.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/apprtc"
	"github.com/ArduinoAndWebRTC/webrtc/internal/app"
	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	DefaultPingPeriod = 54 * time.Second
	writeWait         = 5 * time.Second
	sendBuffer        = 32
)

type SignalWSController struct {
	Hub        *app.Hub
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(hub *app.Hub, readLimit int64, pingPeriod time.Duration) *SignalWSController {
	if pingPeriod <= 0 {
		pingPeriod = DefaultPingPeriod
	}
	return &SignalWSController{Hub: hub, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

// WsSignalConn implements core.SignalConnection over one websocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, sendBuffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Deliver(msg string) error {
	b, err := sonic.Marshal(apprtc.Envelope{Msg: msg})
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("remote", c.ClientIP()).Msg("new WS connection")

	conn := newWsSignalConn(ws)
	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

// HandleDelete is the websocket side of leaving: DELETE /ws/:room/:client.
func (ctl *SignalWSController) HandleDelete(c *gin.Context) {
	roomID, cid := c.Param("room"), domain.ClientID(c.Param("client"))
	ctl.Hub.Leave(roomID, cid)
	log.Info().Str("module", "signal").Str("room", roomID).Str("client", string(cid)).Msg("deleted")
	c.Status(http.StatusOK)
}
