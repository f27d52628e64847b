package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/eubbbruno/instauto-chat/internal/auth"
	"github.com/eubbbruno/instauto-chat/internal/middleware"
)

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	hub            *Hub
	jwtService     *auth.JWTService
	limiter        *middleware.RateLimiter
	allowedOrigins []string
}

func NewHandler(hub *Hub, jwtService *auth.JWTService, limiter *middleware.RateLimiter, allowedOrigins []string) *Handler {
	return &Handler{
		hub:            hub,
		jwtService:     jwtService,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
	}
}

// HandleWebSocket authenticates via the token query parameter (browsers
// cannot set headers on upgrade requests) and attaches the client.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(h.allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			for _, pattern := range h.allowedOrigins {
				if matchOrigin(pattern, origin) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	client := NewClient(h.hub, conn, auth.ParticipantFromClaims(claims), h.limiter)
	if err := h.hub.Register(c.Request.Context(), client); err != nil {
		h.hub.log.Error().Err(err).Str("user_id", claims.UserID.String()).Msg("start session")
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetConnectedUsers lists users with an open socket on this instance.
func (h *Handler) GetConnectedUsers(c *gin.Context) {
	users := h.hub.ConnectedUsers()
	c.JSON(http.StatusOK, gin.H{
		"connected_users": users,
		"count":           len(users),
	})
}

// matchOrigin supports exact matches or wildcard patterns like *.example.com
func matchOrigin(pattern, origin string) bool {
	if pattern == origin || pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		originHost := origin
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
			originHost = u.Hostname()
		}
		return strings.HasSuffix(originHost, strings.TrimPrefix(pattern, "*."))
	}
	return false
}
