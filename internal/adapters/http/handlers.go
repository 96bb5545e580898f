package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/apprtc"
	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/signal"
	"github.com/ArduinoAndWebRTC/webrtc/internal/app"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	hub        *app.Hub
	publicURL  string
	iceServers []domain.IceServer
	limiter    *signal.JoinLimiter
}

// baseURLs returns the http and websocket roots clients should use.
func (h *handlers) baseURLs(c *gin.Context) (string, string) {
	base := strings.TrimRight(h.publicURL, "/")
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base, "ws" + strings.TrimPrefix(base, "http")
}

func joinResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		return apprtc.ResultFull
	case errors.Is(err, domain.ErrInvalidRoomID):
		return apprtc.ResultInvalidRoom
	default:
		return apprtc.ResultError
	}
}

func (h *handlers) join(c *gin.Context) {
	roomID := c.Param("room")
	if !h.limiter.Allow(c.ClientIP()) {
		log.Warn().Str("module", "adapters.http").Str("remote", c.ClientIP()).
			Int("tracked_callers", h.limiter.Keys()).Msg("join rate limited")
		c.JSON(http.StatusTooManyRequests, apprtc.JoinResponse{Result: apprtc.ResultRateLimited})
		return
	}

	cid, res, err := h.hub.Join(roomID)
	if err != nil {
		log.Info().Err(err).Str("module", "adapters.http").Str("room", roomID).Msg("join refused")
		c.JSON(http.StatusOK, apprtc.JoinResponse{Result: joinResult(err)})
		return
	}

	httpBase, wsBase := h.baseURLs(c)
	messages := res.Messages
	if messages == nil {
		messages = []string{}
	}
	c.JSON(http.StatusOK, apprtc.JoinResponse{
		Result: apprtc.ResultSuccess,
		Params: apprtc.JoinParams{
			IsInitiator: apprtc.BoolString(res.IsInitiator),
			RoomID:      roomID,
			ClientID:    string(cid),
			WSSURL:      wsBase + "/ws",
			WSSPostURL:  httpBase + "/ws",
			Messages:    messages,
			IceServers:  h.iceServers,
			IsLoopback:  apprtc.BoolString(c.Query("debug") == "loopback"),
		},
	})
}

func (h *handlers) message(c *gin.Context) {
	roomID, cid := c.Param("room"), domain.ClientID(c.Param("client"))
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, apprtc.MessageResponse{Result: apprtc.ResultError})
		return
	}
	if _, err := apprtc.ParseMessage(string(body)); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("room", roomID).Msg("rejecting message")
		c.JSON(http.StatusBadRequest, apprtc.MessageResponse{Result: apprtc.ResultError})
		return
	}
	if err := h.hub.Send(roomID, cid, string(body)); err != nil {
		result := apprtc.ResultError
		if errors.Is(err, domain.ErrUnknownClient) {
			result = apprtc.ResultInvalidClient
		}
		c.JSON(http.StatusOK, apprtc.MessageResponse{Result: result})
		return
	}
	c.JSON(http.StatusOK, apprtc.MessageResponse{Result: apprtc.ResultSuccess})
}

func (h *handlers) leave(c *gin.Context) {
	h.hub.Leave(c.Param("room"), domain.ClientID(c.Param("client")))
	c.JSON(http.StatusOK, apprtc.MessageResponse{Result: apprtc.ResultSuccess})
}

func (h *handlers) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.hub.Rooms.List()})
}
