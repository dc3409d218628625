package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/app"
	"quiz-sync-service/internal/channel"
	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/registry"
)

// WSHandler upgrades client connections and routes their messages into the
// coordinator: control and answers inbound, session envelopes outbound.
type WSHandler struct {
	service  *app.Service
	registry *registry.Registry
	manager  *channel.Manager
	validate *validator.Validate
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service, reg *registry.Registry, manager *channel.Manager, log *logrus.Entry) *WSHandler {
	return &WSHandler{
		service:  service,
		registry: reg,
		manager:  manager,
		validate: validator.New(),
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId"`
	Payload   json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID     string `json:"questionId" validate:"required"`
	OptionIndex    int    `json:"optionIndex" validate:"gte=0"`
	TimeToAnswerMS int64  `json:"timeToAnswerMs" validate:"gte=0"`
}

type openQuestionPayload struct {
	Index int `json:"index" validate:"gte=0"`
}

type addQuestionPayload struct {
	Prompt        string   `json:"prompt" validate:"required"`
	Options       []string `json:"options" validate:"min=2"`
	CorrectOption int      `json:"correctOption" validate:"gte=0"`
	TimeLimitMS   int64    `json:"timeLimitMs" validate:"gte=0"`
	Points        int      `json:"points" validate:"gte=0"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinedPayload struct {
	SessionID   string `json:"sessionId"`
	Participant any    `json:"participant,omitempty"`
	Session     any    `json:"session"`
}

// ServeWS handles both roles: participants join with
// ?code=CODE&name=NAME&key=CONTACTKEY, hosts with ?session=ID&role=host.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.URL.Query().Get("role"), string(domain.RoleHost)) {
		h.serveHost(w, r)
		return
	}
	h.serveParticipant(w, r)
}

func (h *WSHandler) serveParticipant(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	contactKey := r.URL.Query().Get("key")
	if err := h.validate.Var(code, "required,alphanum,uppercase,min=4,max=20"); err != nil {
		http.Error(w, "invalid access code", http.StatusBadRequest)
		return
	}
	if err := h.validate.Var(name, "required,max=64"); err != nil {
		http.Error(w, "invalid display name", http.StatusBadRequest)
		return
	}
	if contactKey == "" {
		contactKey = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("error", err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	participant, sess, err := h.service.Join(r.Context(), code, name, contactKey)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorFor(err)})
		return
	}

	h.run(r.Context(), conn, sess, participant.ID, domain.RoleParticipant, &participant)
}

func (h *WSHandler) serveHost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if err := h.validate.Var(sessionID, "required,uuid4"); err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("error", err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	sess, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorFor(err)})
		return
	}

	h.run(r.Context(), conn, sess, "host", domain.RoleHost, nil)
}

// run wires one upgraded connection into the registry, the session channel
// and the message loop. A single writer goroutine owns all writes.
func (h *WSHandler) run(ctx context.Context, conn *websocket.Conn, sess domain.Session, identity string, role domain.Role, participant *domain.Participant) {
	connID := uuid.NewString()
	h.registry.Register(connID)
	if err := h.registry.Attach(connID, sess.ID, identity, role); err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorFor(err)})
		return
	}
	defer func() {
		_, _ = h.registry.Detach(connID)
	}()

	send := make(chan any, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	// send stays open for the connection's whole lifetime: a subscription
	// callback can race shutdown, and sending on a buffered open channel is
	// harmless where sending on a closed one would panic. The writer exits
	// through closeSignals instead, draining what the read loop queued.
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					h.log.WithField("error", err).Debug("ws write error")
					return
				}
			case <-closeSignals:
				for {
					select {
					case msg := <-send:
						if err := conn.WriteJSON(msg); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	sub, err := h.manager.Subscribe(ctx, sess.ID, identity, role, func(env domain.Envelope) {
		select {
		case send <- env:
		case <-closeSignals:
		}
	})
	if err != nil {
		send <- outboundMessage[errorPayload]{Type: "error", Payload: errorFor(err)}
		close(closeSignals)
		<-writerDone
		return
	}
	defer sub.Cancel()

	send <- outboundMessage[joinedPayload]{Type: "joined", Payload: joinedPayload{
		SessionID:   sess.ID,
		Participant: participant,
		Session:     domain.SnapshotOf(sess),
	}}
	if role == domain.RoleParticipant && participant != nil {
		h.service.AnnounceParticipant(ctx, sess.ID, participant.DisplayName, true)
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.handleMessage(ctx, connID, sess.ID, identity, role, inbound, send)
	}

	close(closeSignals)
	<-writerDone
}

func (h *WSHandler) handleMessage(ctx context.Context, connID, sessionID, identity string, role domain.Role, inbound inboundMessage, send chan<- any) {
	ctrl := app.Control{SessionID: sessionID, MessageID: inbound.MessageID, Role: role}

	// Replies queued here are drained by the writer even during shutdown.
	reply := func(msg any) {
		send <- msg
	}
	fail := func(err error) {
		reply(outboundMessage[errorPayload]{Type: "error", Payload: errorFor(err)})
	}

	switch inbound.Type {
	case "heartbeat":
		h.registry.Heartbeat(connID)

	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			reply(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "invalid answer payload"}})
			return
		}
		if err := h.validate.Struct(payload); err != nil {
			reply(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: err.Error()}})
			return
		}
		if role != domain.RoleParticipant {
			fail(domain.ErrUnauthorized)
			return
		}
		_, err := h.service.SubmitAnswer(ctx, app.Submission{
			SessionID:     sessionID,
			ParticipantID: identity,
			QuestionID:    payload.QuestionID,
			MessageID:     inbound.MessageID,
			OptionIndex:   payload.OptionIndex,
			TimeToAnswer:  time.Duration(payload.TimeToAnswerMS) * time.Millisecond,
		})
		if err != nil {
			reply(outboundMessage[domain.AnswerErrorData]{Type: string(domain.EventAnswerError), Payload: domain.AnswerErrorData{
				Code:    errorFor(err).Code,
				Message: err.Error(),
			}})
		}

	case "start":
		if _, err := h.service.Start(ctx, ctrl); err != nil {
			fail(err)
		}

	case "openQuestion":
		var payload openQuestionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			reply(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "invalid payload"}})
			return
		}
		if _, err := h.service.OpenQuestion(ctx, ctrl, payload.Index); err != nil {
			fail(err)
		}

	case "nextQuestion":
		if _, err := h.service.NextQuestion(ctx, ctrl); err != nil {
			fail(err)
		}

	case "showResults":
		if _, err := h.service.ShowResults(ctx, ctrl); err != nil {
			fail(err)
		}

	case "end":
		if _, err := h.service.End(ctx, ctrl); err != nil {
			fail(err)
		}

	case "addQuestion":
		var payload addQuestionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			reply(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "invalid payload"}})
			return
		}
		if err := h.validate.Struct(payload); err != nil {
			reply(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: err.Error()}})
			return
		}
		question, err := h.service.AddQuestion(ctx, ctrl, app.QuestionInput{
			Prompt:        payload.Prompt,
			Options:       payload.Options,
			CorrectOption: payload.CorrectOption,
			TimeLimit:     time.Duration(payload.TimeLimitMS) * time.Millisecond,
			Points:        payload.Points,
		})
		if err != nil {
			fail(err)
			return
		}
		reply(outboundMessage[domain.Question]{Type: "questionAdded", Payload: question})

	default:
		reply(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "BAD_TYPE", Message: "unsupported message type"}})
	}
}

func errorFor(err error) errorPayload {
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		code = "UNAUTHORIZED"
	case errors.Is(err, domain.ErrInvalidState):
		code = "INVALID_STATE"
	case errors.Is(err, domain.ErrNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrWindowClosed):
		code = "WINDOW_CLOSED"
	case errors.Is(err, domain.ErrPersistence):
		code = "PERSISTENCE"
	case errors.Is(err, domain.ErrTransportFailure):
		code = "TRANSPORT"
	}
	return errorPayload{Code: code, Message: err.Error()}
}
