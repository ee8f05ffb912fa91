package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/spigell/allocator/internal/embedding"
	"github.com/spigell/allocator/internal/logger"
	"github.com/spigell/allocator/internal/secrets"
	"github.com/spigell/allocator/internal/utils"
)

const (
	defaultModel        = "gemini-embedding-001"
	defaultTaskType     = "SEMANTIC_SIMILARITY"
	defaultMaxRetries   = 3
	defaultMaxLogLength = 120
	providerName        = "gemini"
)

var wait = utils.WaitFor

// Config configures the Gemini embedding lookup.
type Config struct {
	Model             string         `mapstructure:"model"`
	APIKey            secrets.Source `mapstructure:"api-key"`
	Dimensions        int32          `mapstructure:"dimensions"`
	RequestsPerSecond float64        `mapstructure:"requests-per-second"`
	Burst             int            `mapstructure:"burst"`
	MaxRetries        int            `mapstructure:"max-retries"`
	MaxLogLength      int            `mapstructure:"max-log-length"`
}

type embedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client computes vectors from record text with the Gemini API.
type Client struct {
	models       embedder
	model        string
	dimensions   int32
	limiter      *rate.Limiter
	maxRetries   int
	maxLogLength int
	logger       *zap.Logger
}

// New creates a Client for the Gemini API backend. The API key is resolved
// through the secrets loader.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey.Name) == "" {
		cfg.APIKey.Name = "gemini api key"
	}
	apiKey, err := secrets.Load(cfg.APIKey)
	if err != nil {
		return nil, eris.Wrap(err, "gemini")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "create genai client")
	}

	return newWithEmbedder(client.Models, cfg, log), nil
}

func newWithEmbedder(models embedder, cfg Config, log *zap.Logger) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	logLen := cfg.MaxLogLength
	if logLen <= 0 {
		logLen = defaultMaxLogLength
	}

	return &Client{
		models:       models,
		model:        model,
		dimensions:   cfg.Dimensions,
		limiter:      rate.NewLimiter(limit, burst),
		maxRetries:   retries,
		maxLogLength: logLen,
		logger:       logger.WithCommonFields(log, providerName, model),
	}
}

func (c *Client) Name() string { return providerName }

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Vector embeds the record text. Records without text are not found.
func (c *Client) Vector(ctx context.Context, entity, id, text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, embedding.ErrNotFound
	}

	cfg := &genai.EmbedContentConfig{TaskType: defaultTaskType}
	if c.dimensions > 0 {
		dims := c.dimensions
		cfg.OutputDimensionality = &dims
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "gemini rate limiter")
		}

		resp, err := c.models.EmbedContent(ctx, c.model, genai.Text(text), cfg)
		if err == nil {
			return toVector(resp)
		}

		lastErr = err
		if !isTemporary(err) {
			break
		}
		c.logger.Warn("embedding request failed, retrying",
			zap.String("entity", entity),
			zap.String("id", id),
			zap.Int("attempt", attempt+1),
			zap.String("text_preview", utils.TruncateForLog(text, c.maxLogLength)),
			zap.Error(err),
		)
	}

	return nil, eris.Wrapf(lastErr, "embed %s %s", entity, id)
}

func toVector(resp *genai.EmbedContentResponse) ([]float64, error) {
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, eris.New("gemini api returned empty embedding")
	}
	values := resp.Embeddings[0].Values
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}

func isTemporary(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return false
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * 500 * time.Millisecond
}
