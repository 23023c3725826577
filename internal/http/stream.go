package http

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gate-service/internal/camera"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	mjpegBoundary  = "frame"
	mjpegMediaType = "multipart/x-mixed-replace; boundary=" + mjpegBoundary
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamStatus pushes every published snapshot to a websocket client. A slow
// client only ever sees the latest snapshot.
func (h *Handler) streamStatus(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.surface.Subscribe()
	defer unsubscribe()

	h.log.Debug().Str("remote", c.ClientIP()).Msg("status stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug().Err(err).Msg("status stream read failed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			h.log.Debug().Str("remote", c.ClientIP()).Msg("status stream closed")
			return
		}
	}
}

// videoFeed serves the live preview as an MJPEG stream.
func (h *Handler) videoFeed(c *gin.Context) {
	if h.preview == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("preview unavailable"))
		return
	}

	mw := multipart.NewWriter(c.Writer)
	if err := mw.SetBoundary(mjpegBoundary); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.Header("Content-Type", mjpegMediaType)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	interval := time.Second / time.Duration(h.previewFPS)
	err := h.preview.Preview(c.Request.Context(), interval, func(f camera.Frame) error {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(f.Data))},
		})
		if err != nil {
			return err
		}
		if _, err := part.Write(f.Data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, c.Request.Context().Err()) {
		h.log.Debug().Err(err).Msg("preview stream ended")
	}
}
