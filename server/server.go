package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

var (
	// docsBody is marshalled once so /api/docs is byte-identical across calls.
	docsBody []byte

	now = time.Now
)

func init() {
	var err error
	docsBody, err = json.Marshal(DocsResponse{
		Endpoints: DocsEndpoints{
			Chat:   "POST - Send a message to the chatbot",
			Health: "GET - Check API and n8n status",
			Root:   "GET - Serve the chat interface",
		},
		ChatPayload: DocsChatPayload{
			Message:   "Your message here",
			SessionID: "optional_session_id (auto-generated if not provided)",
		},
	})
	if err != nil {
		panic(err)
	}
}

type App struct {
	webhook   *Webhook
	staticDir string
	logger    zerolog.Logger
}

func New(webhook *Webhook, staticDir string, logger zerolog.Logger) *App {
	return &App{
		webhook:   webhook,
		staticDir: staticDir,
		logger:    logger,
	}
}

// Router wires the routes and middleware of the relay.
func (app *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(app.logger))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(RequestID)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		// echo the caller's origin: browsers reject "*" on credentialed requests
		AllowOriginFunc: func(*http.Request, string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodHead, http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", app.HandleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(filesOnly{http.Dir(app.staticDir)})))
	r.Post("/chat", app.HandleChat)
	r.Get("/health", app.HandleHealth)
	r.Get("/api/docs", app.HandleDocs)

	return r
}

func (app *App) HandleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(app.staticDir, "index.html"))
}

// filesOnly hides directories so /static/ never produces a listing.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

func (app *App) HandleChat(w http.ResponseWriter, r *http.Request) {
	req, issues := decodeChatRequest(r)
	if len(issues) > 0 {
		sendJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{Detail: issues})
		return
	}

	payload := OutboundPayload{ChatInput: req.Message}
	if req.SessionID != nil && *req.SessionID != "" {
		payload.SessionID = *req.SessionID
	} else {
		payload.SessionID = "session_" + strconv.FormatInt(now().Unix(), 10)
	}

	logger := zerolog.Ctx(r.Context())
	body, err := app.webhook.Send(r.Context(), payload)
	if err != nil {
		var statusErr *UpstreamStatusError
		switch {
		case errors.Is(err, ErrUpstreamTimeout):
			logger.Warn().Str("session_id", payload.SessionID).Msg("n8n webhook timed out")
			sendErrorResponse(w, "Request timeout - n8n workflow took too long to respond", http.StatusRequestTimeout)
		case errors.As(err, &statusErr):
			logger.Warn().Int("status", statusErr.StatusCode).Str("session_id", payload.SessionID).Msg("n8n webhook returned an error")
			sendErrorResponse(w, "n8n workflow error: "+statusErr.Body, statusErr.StatusCode)
		default:
			logger.Error().Err(err).Str("session_id", payload.SessionID).Msg("n8n webhook call failed")
			sendErrorResponse(w, fmt.Sprintf("Internal server error: %v", err), http.StatusInternalServerError)
		}
		return
	}

	reply, err := ExtractReply(body)
	if err != nil {
		logger.Error().Err(err).Msg("Error reading n8n reply")
		sendErrorResponse(w, fmt.Sprintf("Internal server error: %v", err), http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, ChatResponse{
		Response: reply,
		Status:   statusSuccess,
	})
}

func (app *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := n8nOffline
	if app.webhook.Probe(r.Context()) {
		status = n8nOnline
	}

	sendJSON(w, http.StatusOK, HealthResponse{
		Status:     statusHealthy,
		N8NStatus:  status,
		WebhookURL: app.webhook.URL,
	})
}

func (app *App) HandleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(docsBody)
}

// decodeChatRequest validates the body field by field so that every problem
// is reported, not just the first.
func decodeChatRequest(r *http.Request) (ChatRequest, []ValidationIssue) {
	var req ChatRequest

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&fields); err != nil || dec.More() {
		msg := "Invalid request format"
		if err != nil {
			msg = "Invalid request format: " + err.Error()
		}
		return req, []ValidationIssue{{Loc: []string{"body"}, Msg: msg, Type: "json_invalid"}}
	}
	if fields == nil {
		return req, []ValidationIssue{{Loc: []string{"body"}, Msg: "Input should be an object", Type: "model_type"}}
	}

	var issues []ValidationIssue

	raw, ok := fields["message"]
	switch {
	case !ok:
		issues = append(issues, ValidationIssue{Loc: []string{"body", "message"}, Msg: "Field required", Type: "missing"})
	case !decodeString(raw, &req.Message):
		issues = append(issues, ValidationIssue{Loc: []string{"body", "message"}, Msg: "Input should be a valid string", Type: "string_type"})
	}

	if raw, ok := fields["sessionId"]; ok && !isNull(raw) {
		var sessionID string
		if decodeString(raw, &sessionID) {
			req.SessionID = &sessionID
		} else {
			issues = append(issues, ValidationIssue{Loc: []string{"body", "sessionId"}, Msg: "Input should be a valid string", Type: "string_type"})
		}
	}

	return req, issues
}

func decodeString(raw json.RawMessage, dst *string) bool {
	if isNull(raw) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// Helper function to send error responses
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	sendJSON(w, statusCode, ErrorResponse{Detail: message})
}
