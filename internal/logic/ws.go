package logic

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agrodetect-backend/internal/db"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsChatRequest struct {
	Content string `json:"content"`
}

type wsChatFrame struct {
	Messages []db.ChatMessage `json:"messages"`
	Pending  bool             `json:"pending"`
	Error    string           `json:"error,omitempty"`
}

// ChatWSHandler 连接后先推一次完整记录，之后每条问题推两次：
// 用户消息追加后 pending=true，回复到达后 pending=false
func (h *Handler) ChatWSHandler(c *gin.Context) {
	app := appFrom(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "device_id", app.Device(), "error", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	if err := writeFrame(conn, app.Chat(), ""); err != nil {
		return
	}
	for {
		var req wsChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("Websocket closed", "device_id", app.Device(), "error", err)
			}
			return
		}
		// 登出后会换成新的聊天记录
		chat := app.Chat()
		if strings.TrimSpace(req.Content) == "" {
			if err := writeFrame(conn, chat, "content required"); err != nil {
				return
			}
			continue
		}
		if !chat.Send(ctx, req.Content) {
			if err := writeFrame(conn, chat, "previous message still pending"); err != nil {
				return
			}
			continue
		}
		if err := writeFrame(conn, chat, ""); err != nil {
			return
		}
		if err := chat.Wait(ctx); err != nil {
			return
		}
		if err := writeFrame(conn, chat, ""); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, chat *ChatFlow, errMsg string) error {
	frame := wsChatFrame{Messages: chat.Messages(), Pending: chat.Pending(), Error: errMsg}
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
