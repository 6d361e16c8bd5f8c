package handlers

import (
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"missing-persons-service/middleware"
	"missing-persons-service/models"
	ws "missing-persons-service/websocket"
)

// WebSocketHandler upgrades connections and registers them under the
// authenticated identity.
type WebSocketHandler struct {
	hub       *ws.Hub
	jwtSecret string
}

func NewWebSocketHandler(hub *ws.Hub, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		return true
	},
}

// Listen handles the WebSocket upgrade. Browsers cannot set an Authorization
// header on an upgrade request, so the token arrives as a query parameter.
func (h *WebSocketHandler) Listen(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = extractBearer(c.GetHeader("Authorization"))
	}

	identity, err := middleware.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Warnf("Rejected WebSocket connection from %s: %v", c.ClientIP(), err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, identity)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	log.Infof("WebSocket connection established for identity %s", identity)
}

// HealthCheck returns the service health status with connection statistics.
func (h *WebSocketHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:           "healthy",
		Service:          "missing-persons-service",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ConnectedClients: h.hub.ConnectedClients(),
	})
}

func extractBearer(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && authHeader[:len(prefix)] == prefix {
		return authHeader[len(prefix):]
	}
	return ""
}
