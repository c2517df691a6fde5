package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/yegors/co-call/internal/calls"
	"github.com/yegors/co-call/internal/config"
	"github.com/yegors/co-call/internal/conversation"
	"github.com/yegors/co-call/internal/storage/sqlite"
	"github.com/yegors/co-call/internal/telephony"
	"github.com/yegors/co-call/internal/transcription"
	ws "github.com/yegors/co-call/internal/websocket"
	"github.com/yegors/co-call/pkg/logger"
)

const (
	positionParam       = "question_index"
	defaultAnswersLimit = 50
	maxAnswersLimit     = 500
)

// AnswerReader reads the answer journal
type AnswerReader interface {
	GetAnswersByCall(callSID string) ([]*sqlite.AnswerRecord, error)
	GetRecentAnswers(limit int) ([]*sqlite.AnswerRecord, error)
}

// Dependencies are the services the handlers work with. Placer, Answers,
// Validator and WSServer may be nil.
type Dependencies struct {
	Context   context.Context
	Registry  *calls.Registry
	Driver    *conversation.Driver
	Placer    telephony.Placer
	Renderer  *telephony.Renderer
	Events    *transcription.Router
	Answers   AnswerReader
	WSServer  *ws.Server
	Validator *telephony.SignatureValidator
}

// Handler serves the HTTP API
type Handler struct {
	ctx           context.Context
	registry      *calls.Registry
	driver        *conversation.Driver
	placer        telephony.Placer
	renderer      *telephony.Renderer
	events        *transcription.Router
	answers       AnswerReader
	wsServer      *ws.Server
	validator     *telephony.SignatureValidator
	publicBaseURL string
	streamEnabled bool
	streamPath    string
	upgrader      websocket.Upgrader
	started       time.Time
	logger        *logger.Logger
}

// NewHandler creates the API handler
func NewHandler(deps Dependencies, cfg *config.Config, log *logger.Logger) *Handler {
	ctx := deps.Context
	if ctx == nil {
		ctx = context.Background()
	}
	streamPath := cfg.Stream.Path
	if streamPath == "" {
		streamPath = "/media-stream"
	}

	return &Handler{
		ctx:           ctx,
		registry:      deps.Registry,
		driver:        deps.Driver,
		placer:        deps.Placer,
		renderer:      deps.Renderer,
		events:        deps.Events,
		answers:       deps.Answers,
		wsServer:      deps.WSServer,
		validator:     deps.Validator,
		publicBaseURL: strings.TrimRight(cfg.Server.PublicBaseURL, "/"),
		streamEnabled: cfg.Stream.Enabled,
		streamPath:    streamPath,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		started: time.Now(),
		logger:  log.Named("api-handler"),
	}
}

type makeCallRequest struct {
	ToNumber string `json:"to_number"`
}

type makeCallResponse struct {
	Message string `json:"message"`
	CallSID string `json:"call_sid"`
}

// MakeCall places an outbound call and registers it
func (h *Handler) MakeCall(w http.ResponseWriter, r *http.Request) {
	var req makeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	to := strings.TrimSpace(req.ToNumber)
	if to == "" {
		writeError(w, http.StatusBadRequest, "Missing destination phone number")
		return
	}

	if h.placer == nil {
		writeError(w, http.StatusInternalServerError, "telephony provider is not configured")
		return
	}

	base := h.baseURL(r)
	callSID, err := h.placer.PlaceCall(r.Context(), to, base+"/handle-call", base+"/call-status")
	if err != nil {
		h.logger.Error("Error making call", logger.String("to", to), logger.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.registry.Create(callSID); err != nil {
		// the connected webhook can win the race and register the call first
		if !errors.Is(err, calls.ErrCallExists) {
			h.logger.Error("Failed to register call", logger.String("call_sid", callSID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else {
		h.broadcastStatus(callSID, calls.StatusInitiated)
	}

	h.logger.Info("Call initiated", logger.String("call_sid", callSID), logger.String("to", to))
	writeJSON(w, http.StatusOK, makeCallResponse{
		Message: fmt.Sprintf("Call initiated with SID: %s", callSID),
		CallSID: callSID,
	})
}

// HandleCall is the call-connected webhook: greet and ask the first topic
func (h *Handler) HandleCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	callSID := r.PostFormValue("CallSid")
	if callSID == "" {
		writeError(w, http.StatusBadRequest, "missing CallSid")
		return
	}

	if err := h.registry.Create(callSID); err == nil {
		h.logger.Info("Registered inbound call", logger.String("call_sid", callSID))
		h.broadcastStatus(callSID, calls.StatusInitiated)
	}

	turn := h.driver.Connected(r.Context(), callSID)

	opts := h.renderOptions(r)
	if h.streamEnabled {
		opts.StreamURL = streamURL(h.baseURL(r), h.streamPath)
	}
	h.writeTurn(w, callSID, turn, opts)
}

// ProcessCall is the speech-recognition webhook
func (h *Handler) ProcessCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	position, err := parsePosition(r.URL.Query().Get(positionParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	callSID := r.PostFormValue("CallSid")
	speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))

	h.logger.Info("Speech result",
		logger.String("call_sid", callSID),
		logger.Int("position", position),
		logger.String("speech", speech),
		logger.String("confidence", r.PostFormValue("Confidence")))

	if speech != "" && callSID != "" {
		h.appendTranscript(callSID, speech)
	}

	turn, err := h.driver.SpeechRecognized(r.Context(), callSID, position, speech)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeTurn(w, callSID, turn, h.renderOptions(r))
}

// CallStatus is the provider status callback
func (h *Handler) CallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	callSID := r.PostFormValue("CallSid")
	if callSID == "" {
		writeError(w, http.StatusBadRequest, "missing CallSid")
		return
	}

	status, err := telephony.NormalizeStatus(r.PostFormValue("CallStatus"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.registry.UpdateStatus(callSID, status); err != nil {
		if errors.Is(err, calls.ErrCallNotFound) {
			h.logger.Warn("Status update for unknown call",
				logger.String("call_sid", callSID),
				logger.String("status", string(status)))
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Call status updated",
		logger.String("call_sid", callSID),
		logger.String("status", string(status)))
	h.broadcastStatus(callSID, status)

	doc, err := telephony.Empty()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeTwiML(w, doc)
}

// MediaStream serves the provider's realtime event channel
func (h *Handler) MediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade media stream", logger.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	ch, err := h.events.Serve(ctx, conn)
	if err != nil {
		h.logger.Warn("Media stream ended with error",
			logger.String("call_sid", ch.CallSID),
			logger.Error(err))
		return
	}
	h.logger.Info("Media stream closed",
		logger.String("call_sid", ch.CallSID),
		logger.String("stream_sid", ch.StreamSID),
		logger.Int("events", ch.Events))
}

// ListCalls returns every known call
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// GetCall returns one call record
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.registry.Get(chi.URLParam(r, "callSid"))
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GetCallAnswers returns the journaled answers of one call
func (h *Handler) GetCallAnswers(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSid")
	if !h.registry.Exists(callSID) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if h.answers == nil {
		writeError(w, http.StatusServiceUnavailable, "answer journal is disabled")
		return
	}

	records, err := h.answers.GetAnswersByCall(callSID)
	if err != nil {
		h.logger.Error("Failed to read answers", logger.String("call_sid", callSID), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read answers")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetRecentAnswers returns the latest journaled answers across calls
func (h *Handler) GetRecentAnswers(w http.ResponseWriter, r *http.Request) {
	if h.answers == nil {
		writeError(w, http.StatusServiceUnavailable, "answer journal is disabled")
		return
	}

	limit := defaultAnswersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAnswersLimit)
	}

	records, err := h.answers.GetRecentAnswers(limit)
	if err != nil {
		h.logger.Error("Failed to read recent answers", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read answers")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleWebSocket upgrades a listener connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsServer == nil {
		writeError(w, http.StatusServiceUnavailable, "listeners are disabled")
		return
	}
	h.wsServer.HandleWebSocket(w, r)
}

// GetHealth reports liveness and a few counters
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	listeners := 0
	if h.wsServer != nil {
		listeners = h.wsServer.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"calls":          h.registry.Len(),
		"listeners":      listeners,
		"script_topics":  h.driver.Script().Len(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) writeTurn(w http.ResponseWriter, callSID string, turn conversation.Turn, opts telephony.RenderOptions) {
	doc, err := h.renderer.Render(turn, opts)
	if err != nil {
		h.logger.Error("Failed to render response",
			logger.String("call_sid", callSID),
			logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render response")
		return
	}

	h.logger.Info("Responding to call",
		logger.String("call_sid", callSID),
		logger.String("state", turn.State.String()),
		logger.Int("position", turn.Position),
		logger.Bool("degraded", turn.Degraded),
		logger.String("say", turn.Text()))
	writeTwiML(w, doc)
}

func (h *Handler) appendTranscript(callSID, text string) {
	if err := h.registry.AppendTranscript(callSID, text); err != nil {
		h.logger.Warn("Speech result for unknown call",
			logger.String("call_sid", callSID),
			logger.Error(err))
		return
	}
	if h.wsServer != nil {
		h.wsServer.Broadcast(&ws.Message{
			Type: ws.TypeTranscriptUpdate,
			Data: map[string]interface{}{
				"call_sid":  callSID,
				"text":      text,
				"source":    "speech",
				"timestamp": time.Now().UTC(),
			},
		})
	}
}

func (h *Handler) broadcastStatus(callSID string, status calls.Status) {
	if h.wsServer == nil {
		return
	}
	h.wsServer.Broadcast(&ws.Message{
		Type: ws.TypeCallStatus,
		Data: map[string]interface{}{
			"call_sid":  callSID,
			"status":    status,
			"timestamp": time.Now().UTC(),
		},
	})
}

func (h *Handler) renderOptions(r *http.Request) telephony.RenderOptions {
	base := h.baseURL(r)
	return telephony.RenderOptions{
		ActionURL: func(position int) string {
			return fmt.Sprintf("%s/process-call?%s=%d", base, positionParam, position)
		},
	}
}

// baseURL is the public URL the provider reaches this service at: the
// configured one, or the scheme and host the request arrived with
func (h *Handler) baseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	return scheme + "://" + host
}

func streamURL(base, path string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + path
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + path
	}
	return base + path
}

// parsePosition reads the conversation position. Missing means 0.
func parsePosition(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	position, err := strconv.Atoi(raw)
	if err != nil || position < 0 {
		return 0, fmt.Errorf("invalid %s: %q", positionParam, raw)
	}
	return position, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
