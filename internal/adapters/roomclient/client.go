// Package roomclient implements core.SignalingChannel against an AppRTC style room server.
package roomclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/apprtc"
	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	DefaultTimeout = 10 * time.Second
	outBuffer      = 256
	writeWait      = 5 * time.Second
)

var errNotConnected = errors.New("not connected to a room")

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithHTTPClient(h *fasthttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// Client joins one room for one call. All network writes run on a single
// sender goroutine in submission order, so callers never block on I/O.
type Client struct {
	events  core.SignalingEvents
	http    *fasthttp.Client
	dialer  *websocket.Dialer
	timeout time.Duration

	ctx     context.Context
	out     chan func()
	done    chan struct{}
	started atomic.Bool
	closing atomic.Bool
	once    sync.Once

	// Owned by the sender goroutine; the read loop only sees values set before it starts.
	room      domain.RoomIdentity
	clientID  string
	initiator bool
	postURL   string
	ws        *websocket.Conn
}

var _ core.SignalingChannel = (*Client)(nil)

func New(events core.SignalingEvents, opts ...Option) *Client {
	c := &Client{
		events:  events,
		http:    &fasthttp.Client{Name: "rigcall"},
		dialer:  websocket.DefaultDialer,
		timeout: DefaultTimeout,
		ctx:     context.Background(),
		out:     make(chan func(), outBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ConnectToRoom(ctx context.Context, room domain.RoomIdentity) {
	if !c.started.CompareAndSwap(false, true) {
		log.Warn().Str("module", "roomclient").Msg("ConnectToRoom called twice")
		return
	}
	c.ctx = ctx
	go c.sendLoop()
	c.enqueue(func() { c.connect(room) })
}

func (c *Client) sendLoop() {
	for {
		select {
		case fn := <-c.out:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Client) enqueue(fn func()) {
	select {
	case c.out <- fn:
	case <-c.done:
	}
}

// submit queues fn unless the client is not running.
func (c *Client) submit(what string, fn func()) {
	if !c.started.Load() || c.closing.Load() {
		log.Debug().Str("module", "roomclient").Str("what", what).Msg("not connected, dropping")
		return
	}
	c.enqueue(fn)
}

func (c *Client) connect(room domain.RoomIdentity) {
	if err := room.Validate(); err != nil {
		c.events.OnChannelError(err.Error())
		return
	}
	c.room = room

	var resp apprtc.JoinResponse
	if err := c.do(c.ctx, fasthttp.MethodPost, c.joinURL(), nil, &resp); err != nil {
		c.events.OnChannelError(fmt.Sprintf("join room: %v", err))
		return
	}
	if resp.Result != apprtc.ResultSuccess {
		c.events.OnChannelError("room response error: " + resp.Result)
		return
	}
	params, err := resp.Parameters()
	if err != nil {
		c.events.OnChannelError(fmt.Sprintf("join room: %v", err))
		return
	}
	c.clientID = resp.Params.ClientID
	c.initiator = params.Role == domain.RoleInitiator
	c.postURL = resp.Params.WSSPostURL

	dialCtx, cancel := context.WithTimeout(c.ctx, c.timeout)
	ws, _, err := c.dialer.DialContext(dialCtx, resp.Params.WSSURL, nil)
	cancel()
	if err != nil {
		c.leaveRoom()
		c.events.OnChannelError(fmt.Sprintf("websocket dial: %v", err))
		return
	}
	c.ws = ws
	if err := c.writeCommand(apprtc.Command{Cmd: apprtc.CmdRegister, RoomID: room.RoomID, ClientID: c.clientID}); err != nil {
		c.events.OnChannelError(fmt.Sprintf("websocket register: %v", err))
		return
	}
	go c.readLoop(ws, c.initiator)

	log.Info().Str("module", "roomclient").Str("room", room.RoomID).Str("client", c.clientID).
		Str("role", params.Role.String()).Int("queued_candidates", len(params.IceCandidates)).Msg("joined room")
	c.events.OnConnectedToRoom(params)
}

func (c *Client) joinURL() string {
	u := fmt.Sprintf("%s/join/%s", strings.TrimRight(c.room.RoomURL, "/"), url.PathEscape(c.room.RoomID))
	if c.room.Loopback {
		u += "?debug=loopback"
	}
	return u
}

func (c *Client) messageURL(kind string) string {
	return fmt.Sprintf("%s/%s/%s/%s", strings.TrimRight(c.room.RoomURL, "/"), kind,
		url.PathEscape(c.room.RoomID), url.PathEscape(c.clientID))
}

// do runs one HTTP exchange. A non-200 status is an error; out, when set, receives the JSON body.
func (c *Client) do(ctx context.Context, method, uri string, body []byte, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("text/plain; charset=utf-8")
		req.SetBody(body)
	}
	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return fmt.Errorf("%s %s: %w", method, uri, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("%s %s: unexpected status code %d: %s", method, uri, resp.StatusCode(), resp.Body())
	}
	if out != nil {
		if err := sonic.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%s %s: decoding response: %w", method, uri, err)
		}
	}
	return nil
}

func (c *Client) writeCommand(cmd apprtc.Command) error {
	if c.ws == nil {
		return errNotConnected
	}
	b, err := sonic.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// sendMessage relays m to the peer: the initiator posts over HTTP, the responder writes to the websocket.
func (c *Client) sendMessage(m apprtc.Message) {
	if c.ws == nil {
		log.Warn().Str("module", "roomclient").Str("type", m.Type).Msg("send before join, dropping")
		return
	}
	raw, err := apprtc.Encode(m)
	if err != nil {
		c.events.OnChannelError(err.Error())
		return
	}
	if !c.initiator {
		if err := c.writeCommand(apprtc.Command{Cmd: apprtc.CmdSend, Msg: raw}); err != nil {
			c.events.OnChannelError(fmt.Sprintf("websocket send: %v", err))
		}
		return
	}
	var resp apprtc.MessageResponse
	if err := c.do(c.ctx, fasthttp.MethodPost, c.messageURL("message"), []byte(raw), &resp); err != nil {
		c.events.OnChannelError(fmt.Sprintf("post message: %v", err))
		return
	}
	if resp.Result != apprtc.ResultSuccess {
		c.events.OnChannelError("message error: " + resp.Result)
	}
}

func (c *Client) SendOfferSDP(sd domain.SessionDescription) {
	c.submit("offer", func() {
		if !c.initiator {
			log.Warn().Str("module", "roomclient").Msg("offer from non-initiator, dropping")
			return
		}
		c.sendMessage(apprtc.DescriptionMessage(sd))
		if c.room.Loopback {
			c.events.OnRemoteDescription(domain.SessionDescription{Type: domain.SDPAnswer, SDP: sd.SDP})
		}
	})
}

func (c *Client) SendAnswerSDP(sd domain.SessionDescription) {
	c.submit("answer", func() {
		if c.room.Loopback {
			log.Error().Str("module", "roomclient").Msg("answer in loopback mode, dropping")
			return
		}
		c.sendMessage(apprtc.DescriptionMessage(sd))
	})
}

func (c *Client) SendLocalIceCandidate(cand domain.IceCandidate) {
	c.submit("candidate", func() {
		c.sendMessage(apprtc.CandidateMessage(cand))
		if c.room.Loopback {
			c.events.OnRemoteIceCandidate(cand)
		}
	})
}

func (c *Client) SendLocalIceCandidateRemovals(cands []domain.IceCandidate) {
	c.submit("remove-candidates", func() {
		c.sendMessage(apprtc.RemovalMessage(cands))
		if c.room.Loopback {
			c.events.OnRemoteIceCandidatesRemoved(cands)
		}
	})
}

// DisconnectFromRoom says bye, leaves the room and closes the websocket.
// Only the first call does anything.
func (c *Client) DisconnectFromRoom() {
	c.once.Do(func() {
		c.closing.Store(true)
		if !c.started.Load() {
			close(c.done)
			return
		}
		c.enqueue(func() {
			c.leaveRoom()
			close(c.done)
		})
	})
}

// Done is closed once the client has stopped: after the leave sequence ran,
// or at once when DisconnectFromRoom came before any connect.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) leaveRoom() {
	if c.clientID == "" {
		return
	}
	ctx := context.Background()
	if c.ws != nil {
		// Posted, not written to the websocket, so the server relays it before it sees the leave.
		if raw, err := apprtc.Encode(apprtc.Message{Type: apprtc.TypeBye}); err == nil {
			if err := c.do(ctx, fasthttp.MethodPost, c.messageURL("message"), []byte(raw), nil); err != nil {
				log.Debug().Err(err).Str("module", "roomclient").Msg("bye not sent")
			}
		}
	}
	if err := c.do(ctx, fasthttp.MethodPost, c.messageURL("leave"), nil, nil); err != nil {
		log.Warn().Err(err).Str("module", "roomclient").Msg("leave failed")
	}
	if c.postURL != "" {
		deleteURL := fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.postURL, "/"), url.PathEscape(c.room.RoomID), url.PathEscape(c.clientID))
		if err := c.do(ctx, fasthttp.MethodDelete, deleteURL, nil, nil); err != nil {
			log.Warn().Err(err).Str("module", "roomclient").Msg("websocket delete failed")
		}
	}
	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.ws.Close()
	}
	log.Info().Str("module", "roomclient").Str("room", c.room.RoomID).Str("client", c.clientID).Msg("left room")
	c.clientID = ""
}

func (c *Client) readLoop(ws *websocket.Conn, initiator bool) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.events.OnChannelClose()
				return
			}
			c.events.OnChannelError(fmt.Sprintf("websocket read: %v", err))
			return
		}
		var env apprtc.Envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			c.events.OnChannelError(fmt.Sprintf("websocket frame: %v", err))
			continue
		}
		if env.Error != "" {
			c.events.OnChannelError("websocket error message: " + env.Error)
			continue
		}
		if env.Msg != "" {
			c.handleMessage(env.Msg, initiator)
		}
	}
}

func (c *Client) handleMessage(raw string, initiator bool) {
	m, err := apprtc.ParseMessage(raw)
	if err != nil {
		c.events.OnChannelError(err.Error())
		return
	}
	switch m.Type {
	case apprtc.TypeAnswer:
		if !initiator {
			c.events.OnChannelError("unexpected answer: not the call initiator")
			return
		}
		c.events.OnRemoteDescription(m.Description())
	case apprtc.TypeOffer:
		if initiator {
			c.events.OnChannelError("unexpected offer: this client is the call initiator")
			return
		}
		c.events.OnRemoteDescription(m.Description())
	case apprtc.TypeCandidate:
		c.events.OnRemoteIceCandidate(m.IceCandidate())
	case apprtc.TypeRemoveCandidates:
		c.events.OnRemoteIceCandidatesRemoved(m.RemovedCandidates())
	case apprtc.TypeBye:
		c.events.OnChannelClose()
	}
}
