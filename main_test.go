package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrelay/n8n-chat-relay/config"
)

// captureConfig runs the root command with args and returns the config it
// would have served with.
func captureConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	var got *config.Config
	orig := runServer
	runServer = func(_ context.Context, cfg *config.Config) error {
		got = cfg
		return nil
	}
	defer func() { runServer = orig }()

	cmd := newRootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return got, err
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, key := range []string{
		"N8N_WEBHOOK_URL", "N8N_BASE_URL", "HOST", "PORT", "STATIC_DIR",
		"CHAT_TIMEOUT", "HEALTH_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestRootCommandOverrides(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		args       []string
		webhookURL string
		host       string
		port       int
		staticDir  string
		logLevel   string
	}{
		{
			name:       "Defaults",
			webhookURL: config.DefaultWebhookURL,
			host:       "0.0.0.0",
			port:       8000,
			staticDir:  "static",
			logLevel:   "info",
		},
		{
			name:       "Env only",
			env:        map[string]string{"N8N_WEBHOOK_URL": "http://env-n8n:5678/webhook/x/chat", "PORT": "9000", "LOG_LEVEL": "debug"},
			webhookURL: "http://env-n8n:5678/webhook/x/chat",
			host:       "0.0.0.0",
			port:       9000,
			staticDir:  "static",
			logLevel:   "debug",
		},
		{
			name: "Flags win over env",
			env:  map[string]string{"N8N_WEBHOOK_URL": "http://env-n8n:5678/webhook/x/chat", "PORT": "9000", "HOST": "10.0.0.1"},
			args: []string{
				"--webhook-url", "https://flag-n8n/webhook/y/chat",
				"--port", "8081",
				"--static-dir", "/srv/ui",
				"--log-level", "warn",
			},
			webhookURL: "https://flag-n8n/webhook/y/chat",
			host:       "10.0.0.1",
			port:       8081,
			staticDir:  "/srv/ui",
			logLevel:   "warn",
		},
		{
			name:       "Host flag",
			args:       []string{"--host", "127.0.0.1"},
			webhookURL: config.DefaultWebhookURL,
			host:       "127.0.0.1",
			port:       8000,
			staticDir:  "static",
			logLevel:   "info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			cfg, err := captureConfig(t, tt.args...)
			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, tt.webhookURL, cfg.WebhookURL)
			assert.Equal(t, tt.host, cfg.Host)
			assert.Equal(t, tt.port, cfg.Port)
			assert.Equal(t, tt.staticDir, cfg.StaticDir)
			assert.Equal(t, tt.logLevel, cfg.LogLevel)
		})
	}
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	setEnv(t, nil)

	cfg, err := captureConfig(t, "--webhook-url", "not-a-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute http(s) url")
	assert.Nil(t, cfg)

	_, err = captureConfig(t, "--port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port out of range")
}
