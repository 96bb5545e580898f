package signal

import (
	"context"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/apprtc"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("ping failed")
				return
			}
		}
	}
}

// session is what one websocket learned from its register command.
type session struct {
	roomID string
	cid    domain.ClientID
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	var s session
	defer func() {
		log.Info().Str("module", "signal").Str("room", s.roomID).Str("client", string(s.cid)).Msg("readPump closing")
		cancel()
		c.Close()
		if s.cid != "" {
			ctl.Hub.Disconnect(s.roomID, s.cid, c)
		}
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	pongWait := ctl.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleCommand(&s, c, cancel, data)
	}
}

// handleCommand answers protocol errors with an error frame and keeps the socket open;
// the client decides whether to hang up.
func (ctl *SignalWSController) handleCommand(s *session, c *WsSignalConn, cancel context.CancelFunc, data []byte) {
	var cmd apprtc.Command
	if err := sonic.Unmarshal(data, &cmd); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "invalid json")
		return
	}

	switch cmd.Cmd {
	case apprtc.CmdRegister:
		if s.cid != "" {
			ctl.sendError(c, "duplicated register request")
			return
		}
		cid := domain.ClientID(cmd.ClientID)
		if err := ctl.Hub.Register(cmd.RoomID, cid, c, cancel); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", cmd.RoomID).Str("client", cmd.ClientID).Msg("register rejected")
			ctl.sendError(c, err.Error())
			return
		}
		s.roomID, s.cid = cmd.RoomID, cid
	case apprtc.CmdSend:
		if s.cid == "" {
			ctl.sendError(c, "client not registered")
			return
		}
		if err := ctl.Hub.Send(s.roomID, s.cid, cmd.Msg); err != nil {
			ctl.sendError(c, err.Error())
		}
	default:
		log.Warn().Str("module", "signal").Str("cmd", cmd.Cmd).Msg("unknown command")
		ctl.sendError(c, "invalid command")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	b, err := sonic.Marshal(apprtc.Envelope{Error: msg})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendError marshal")
		return
	}
	_ = c.TrySend(b)
}
