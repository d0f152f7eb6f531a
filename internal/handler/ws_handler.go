package handler

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	ws "github.com/stemsi/exstem-assess/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams session events to the candidate's browser and receives
// proctoring events from it.
type WSHandler struct {
	manager  *service.SessionManager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *service.SessionManager, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:  manager,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AssessmentStream godoc
// WS /ws/v1/assessments/:link_id/stream
// Pushes tick, warning, status and completed events. Accepts violation,
// key, dismiss and ping actions.
func (h *WSHandler) AssessmentStream(c *gin.Context) {
	linkID := c.Param("link_id")
	if _, err := uuid.Parse(linkID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.manager.Open(c.Request.Context(), linkID)
	if err != nil {
		e := classify(err, response.ErrLoadFailed)
		response.FailWithMessage(c, e.status, e.code, e.message)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)

	wsLog := h.log.With().Str("link_id", linkID).Logger()
	wsLog.Info().Msg("Candidate connected")

	events, unsubscribe := sess.Subscribe()
	st := newStream(conn, events)
	// The stream ends with the assessment: completion closes it once the
	// completed event has been written.
	detach := sess.AttachResource(st)
	defer func() {
		detach()
		unsubscribe()
		_ = st.Close()
		<-st.finished
		wsLog.Info().Msg("Candidate disconnected")
	}()

	go st.pump(wsLog)

	if err := conn.WriteTyped(ws.SnapshotResponse{Event: ws.EventSnapshot, Session: sess.Snapshot()}); err != nil {
		return
	}

	ctx := c.Request.Context()
	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if ws.IsUnexpectedClose(err) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionViolation:
			if !msg.Kind.Valid() {
				_ = conn.WriteError(string(response.ErrValidation), "unknown violation kind: "+string(msg.Kind))
				continue
			}
			verdict, err := sess.ReportViolation(ctx, msg.Kind)
			if err != nil {
				e := classify(err, response.ErrInternal)
				_ = conn.WriteError(string(e.code), errorMessage(e))
				continue
			}
			_ = conn.WriteTyped(ws.VerdictResponse{Event: ws.EventVerdict, Verdict: verdict})
		case ws.ActionKey:
			if msg.Key == nil {
				_ = conn.WriteError(string(response.ErrValidation), "key is required")
				continue
			}
			_ = conn.WriteTyped(ws.KeyResponse{Event: ws.EventKey, Key: sess.HandleKey(ctx, *msg.Key)})
		case ws.ActionDismiss:
			_ = conn.WriteTyped(ws.DismissedResponse{Event: ws.EventDismissed, Instruction: sess.DismissWarning()})
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func errorMessage(e apiError) string {
	if e.message != "" {
		return e.message
	}
	return response.GetMessage(e.code)
}

// stream forwards session events to one connection.
type stream struct {
	conn      *ws.Conn
	events    <-chan model.SessionEvent
	done      chan struct{}
	closeOnce sync.Once
	finished  chan struct{}
}

func newStream(conn *ws.Conn, events <-chan model.SessionEvent) *stream {
	return &stream{
		conn:     conn,
		events:   events,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Close asks the pump to flush pending events and close the connection.
func (s *stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *stream) pump(log zerolog.Logger) {
	defer close(s.finished)
	defer s.conn.Close()

	for {
		select {
		case evt, ok := <-s.events:
			if !ok {
				return
			}
			if err := s.conn.WriteTyped(evt); err != nil {
				log.Debug().Err(err).Msg("Event write failed")
				return
			}
		case <-s.done:
			for {
				select {
				case evt, ok := <-s.events:
					if !ok {
						return
					}
					if err := s.conn.WriteTyped(evt); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
