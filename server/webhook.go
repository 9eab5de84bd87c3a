package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrUpstreamTimeout is returned when n8n does not answer within the bound.
var ErrUpstreamTimeout = errors.New("n8n request timed out")

// UpstreamStatusError carries a non-2xx reply from n8n.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("n8n returned status %d: %s", e.StatusCode, e.Body)
}

// Webhook talks to the n8n instance behind the relay.
type Webhook struct {
	URL           string
	ProbeURL      string
	ChatTimeout   time.Duration
	HealthTimeout time.Duration

	client *http.Client
}

func NewWebhook(url, probeURL string, chatTimeout, healthTimeout time.Duration) *Webhook {
	return &Webhook{
		URL:           url,
		ProbeURL:      probeURL,
		ChatTimeout:   chatTimeout,
		HealthTimeout: healthTimeout,
		client: &http.Client{
			// a redirect is a non-2xx reply, not something to chase
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Send posts the payload once and returns the raw reply body.
func (wh *Webhook) Send(ctx context.Context, payload OutboundPayload) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, wh.ChatTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set(requestIDHeader, id)
	}

	start := time.Now()
	resp, err := wh.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrUpstreamTimeout
		}
		return nil, errors.Wrap(err, "call n8n webhook")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrUpstreamTimeout
		}
		return nil, errors.Wrap(err, "read n8n response")
	}

	zerolog.Ctx(ctx).Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("took", time.Since(start)).
		Str("session_id", payload.SessionID).
		Msg("n8n webhook replied")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// Probe reports whether the n8n base address answers 200. Every failure,
// including timeouts, counts as unreachable.
func (wh *Webhook) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, wh.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wh.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := wh.client.Do(req)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("url", wh.ProbeURL).Msg("n8n probe failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
