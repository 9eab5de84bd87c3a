package server

// Request and response types
type ChatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"sessionId"`
}

type ChatResponse struct {
	Response  string  `json:"response"`
	Status    string  `json:"status"`
	Timestamp *string `json:"timestamp"`
}

// OutboundPayload is the body posted to the n8n chat trigger.
type OutboundPayload struct {
	ChatInput string `json:"chatInput"`
	SessionID string `json:"sessionId"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	N8NStatus  string `json:"n8n_status"`
	WebhookURL string `json:"webhook_url"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ValidationIssue describes one rejected field of a request body.
type ValidationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type ValidationErrorResponse struct {
	Detail []ValidationIssue `json:"detail"`
}

type DocsResponse struct {
	Endpoints   DocsEndpoints   `json:"endpoints"`
	ChatPayload DocsChatPayload `json:"chat_payload"`
}

type DocsEndpoints struct {
	Chat   string `json:"/chat"`
	Health string `json:"/health"`
	Root   string `json:"/"`
}

type DocsChatPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

const (
	statusSuccess = "success"
	statusHealthy = "healthy"

	n8nOnline  = "online"
	n8nOffline = "offline"
)
