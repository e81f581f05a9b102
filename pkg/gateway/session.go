package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/dealroom/pkg/coordinator"
	"github.com/aretw0/dealroom/pkg/domain"
)

// Action frames sent by the client.
const (
	ActionMessage  = "message"
	ActionCreate   = "create"
	ActionEdit     = "edit"
	ActionSend     = "send"
	ActionAccept   = "accept"
	ActionReject   = "reject"
	ActionWithdraw = "withdraw"
	ActionCancel   = "cancel"
)

// Frame types sent by the server.
const (
	FrameUpdate = "update"
	FrameAck    = "ack"
	FrameError  = "error"
)

// ClientFrame is an action requested by the client. ID is echoed back.
// Version is the proposal version the client last observed; a send that
// carries terms must set it.
type ClientFrame struct {
	ID      string        `json:"id,omitempty"`
	Action  string        `json:"action"`
	Content string        `json:"content,omitempty"`
	Terms   []domain.Term `json:"terms,omitempty"`
	Version *int64        `json:"version,omitempty"`
}

// ServerFrame is pushed to the client.
type ServerFrame struct {
	Type   string              `json:"type"`
	ID     string              `json:"id,omitempty"`
	Action string              `json:"action,omitempty"`
	Update *coordinator.Update `json:"update,omitempty"`
	Error  *errorBody          `json:"error,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	convID := r.URL.Query().Get("conversation")
	if convID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: "conversation is required"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess, err := s.coord.Bind(ctx, id.Party, convID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sess.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("conversation", convID, "party", id.Party.ID)
	logger.Info("websocket connected", "remote", r.RemoteAddr)

	replies := make(chan ServerFrame, 16)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.writeLoop(gctx, conn, sess, replies) })
	g.Go(func() error { return s.readLoop(gctx, conn, sess, replies) })

	if err := g.Wait(); err != nil && !isClosed(err) {
		logger.Warn("websocket closed", "error", err)
		return
	}
	logger.Info("websocket closed")
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *coordinator.Session, replies <-chan ServerFrame) error {
	// Closing the connection unblocks the reader.
	defer conn.Close()

	ping := time.NewTicker(s.pongWait * 9 / 10)
	defer ping.Stop()

	write := func(f ServerFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		return conn.WriteJSON(f)
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case u, ok := <-sess.Updates():
			if !ok {
				return nil
			}
			if err := write(ServerFrame{Type: FrameUpdate, Update: &u}); err != nil {
				return err
			}
		case f := <-replies:
			if err := write(f); err != nil {
				return err
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *coordinator.Session, replies chan<- ServerFrame) error {
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		var f ClientFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))

		reply := ServerFrame{Type: FrameAck, ID: f.ID, Action: f.Action}
		if err := dispatch(ctx, sess, f); err != nil {
			body := newErrorBody(err)
			reply.Type, reply.Error = FrameError, &body
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
			return nil
		}
	}
}

var (
	errUnknownAction  = errors.New("unknown action")
	errMissingVersion = errors.New("send with terms requires the observed version")
)

func dispatch(ctx context.Context, sess *coordinator.Session, f ClientFrame) error {
	switch f.Action {
	case ActionMessage:
		_, err := sess.SendMessage(ctx, f.Content)
		return err
	case ActionCreate:
		return sess.CreateProposal(ctx, f.Terms)
	case ActionEdit:
		return sess.EditTerms(f.Terms)
	case ActionSend:
		if f.Version != nil {
			return sess.SendTerms(ctx, f.Terms, *f.Version)
		}
		if f.Terms != nil {
			return errMissingVersion
		}
		return sess.SendProposal(ctx)
	case ActionAccept:
		return sess.Accept(ctx)
	case ActionReject:
		return sess.Reject(ctx)
	case ActionWithdraw:
		return sess.Withdraw(ctx)
	case ActionCancel:
		return sess.CancelEdit(ctx)
	default:
		return fmt.Errorf("%w %q", errUnknownAction, f.Action)
	}
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent)
}
