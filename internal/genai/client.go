package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codefionn/cookiebridge/internal/config"
	"github.com/codefionn/cookiebridge/internal/logger"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoCredentials is returned when neither a cookie header nor an API key
// is available.
var ErrNoCredentials = errors.New("no AI service credentials: push cookies through the bridge or set an API key")

const requestTimeout = 60 * time.Second

// Client talks to an OpenAI-compatible chat endpoint, authenticating with the
// cookie header from Credentials and/or a static API key.
type Client struct {
	cfg        config.GenAIConfig
	creds      *Credentials
	httpClient *http.Client
}

// NewClient creates a client. The cookie header is read from creds on every
// request, so bridge updates take effect immediately.
func NewClient(cfg config.GenAIConfig, creds *Credentials) *Client {
	return &Client{
		cfg:        cfg,
		creds:      creds,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// SetHTTPClient replaces the HTTP client used for requests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

func (c *Client) requestOptions() ([]option.RequestOption, error) {
	cookie := ""
	if c.creds != nil {
		cookie = c.creds.CookieHeader()
	}
	if cookie == "" && c.cfg.APIKey == "" {
		return nil, ErrNoCredentials
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(1),
	}
	if c.cfg.BaseURL != "" {
		base := c.cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if c.cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.cfg.APIKey))
	}
	if cookie != "" {
		opts = append(opts, option.WithHeader("Cookie", cookie))
	}
	return opts, nil
}

// Translate asks the model to translate text into the configured target
// language and returns the translation.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	opts, err := c.requestOptions()
	if err != nil {
		return "", err
	}

	target := c.cfg.TargetLanguage
	if target == "" {
		target = "English"
	}

	api := openai.NewClient(opts...)
	resp, err := api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf("Translate the user's caption into %s. Reply with the translation only.", target)),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translate: empty response")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	logger.Debug("Translated %d chars into %d chars (%s)", len(text), len(out), target)
	return out, nil
}
