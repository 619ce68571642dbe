package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/app/live"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// metricsFeed pushes the per-frame metrics of the live stream as JSON text
// messages. Updates are dropped for a client that cannot keep up.
func (h *handlers) metricsFeed(c *gin.Context) {
	sid := c.GetString(clientTokenKey)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("sid", sid).Msg("ws upgrade")
		return
	}
	logger := log.With().Str("module", "adapters.http").Str("sid", sid).Logger()
	logger.Info().Msg("metrics feed connected")

	updates, stop := h.orch.Metrics()
	ctx, cancel := context.WithCancel(h.ctx)

	go readPump(ctx, cancel, ws, logger)
	writePump(ctx, ws, updates, logger)

	cancel()
	stop()
	_ = ws.Close()
	logger.Info().Msg("metrics feed closed")
}

func writePump(ctx context.Context, ws *websocket.Conn, updates <-chan live.FrameMetrics, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case m, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(m)
			if err != nil {
				logger.Error().Err(err).Msg("writePump marshal")
				continue
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Info().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Info().Err(err).Msg("writePump ping")
				return
			}
		}
	}
}

// readPump only drains control frames; the feed is one way. It cancels ctx
// when the peer goes away.
func readPump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, logger zerolog.Logger) {
	defer cancel()
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for ctx.Err() == nil {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
	}
}
