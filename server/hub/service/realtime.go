package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/domain"
)

type inboundFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type replyFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	replyAck   = "ack"
	replyError = "error"
)

// Serve pumps frames between the socket and session until the peer goes
// away, then tears the session down. Frames are handled one at a time in
// arrival order; every frame gets an ack, pong or error reply.
func (c *WSConn) Serve(ctx context.Context, session *Session) {
	go c.writePump()
	defer func() {
		session.Close()
		c.Close()
	}()

	ws := c.ws
	ws.SetReadLimit(c.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				commonlog.Warnf("event=hub_session action=read status=failed user_id=%s conn_id=%s error=%v", c.UserID(), c.ID(), err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reply(errorReply("", domain.Validationf("malformed frame")))
			continue
		}
		op, err := DecodeOperation(frame.Type, frame.Payload)
		if err != nil {
			c.reply(errorReply(frame.RequestID, err))
			continue
		}
		result, err := session.Handle(ctx, op)
		switch {
		case err != nil:
			c.reply(errorReply(frame.RequestID, err))
		case op.Kind() == OpPing:
			c.reply(replyFrame{Type: domain.EventPong, RequestID: frame.RequestID})
		default:
			c.reply(replyFrame{Type: replyAck, RequestID: frame.RequestID, Payload: result})
		}
	}
}

func errorReply(requestID string, err error) replyFrame {
	code := domain.ErrorCode(err)
	if code == domain.CodeInternal {
		commonlog.Errorf("event=hub_session action=handle status=failed request_id=%s error=%v", requestID, err)
	}
	return replyFrame{Type: replyError, RequestID: requestID, Code: code, Error: domain.PublicMessage(err)}
}

func (c *WSConn) reply(frame replyFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		commonlog.Errorf("event=hub_session action=reply status=failed conn_id=%s error=%v", c.id, err)
		return
	}
	if err := c.enqueue(b); err != nil {
		commonlog.Warnf("event=hub_session action=reply status=dropped user_id=%s conn_id=%s type=%s error=%v", c.userID, c.id, frame.Type, err)
	}
}
