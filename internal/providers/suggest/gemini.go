package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"lookbook/internal/domain"
	"lookbook/internal/infra"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Provider
	Logger     *infra.Logger
	OnFallback func(reason string, err error)
}

type GeminiProvider struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	fallback   Provider
	logger     *infra.Logger
	onFallback func(reason string, err error)
}

const geminiDefaultTimeout = 20 * time.Second

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type suggestionPayload struct {
	Suggestions []struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Items       []string `json:"items"`
		Prompt      string   `json:"prompt"`
	} `json:"suggestions"`
}

func NewGeminiProvider(opts GeminiOptions) (*GeminiProvider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStaticProvider()
	}
	return &GeminiProvider{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		client:     client,
		fallback:   fallback,
		logger:     infra.LoggerOrDiscard(opts.Logger),
		onFallback: opts.OnFallback,
	}, nil
}

// Suggest asks Gemini for suggestions in JSON mode. Any transport or decoding
// problem is answered by the fallback provider instead of failing the job.
func (g *GeminiProvider) Suggest(ctx context.Context, req Request) ([]domain.StyleSuggestion, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildSuggestPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.8,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.useFallback(ctx, req, "encode_request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return g.useFallback(ctx, req, "build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.useFallback(ctx, req, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return g.useFallback(ctx, req, "http_status", fmt.Errorf("status %d", resp.StatusCode))
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.useFallback(ctx, req, "decode_response", err)
	}
	text := extractText(out)
	if text == "" {
		return g.useFallback(ctx, req, "empty_response", nil)
	}
	parsed, err := parsePayload[suggestionPayload](text)
	if err != nil {
		return g.useFallback(ctx, req, "parse_payload", err)
	}

	var result []domain.StyleSuggestion
	for _, s := range parsed.Suggestions {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		result = append(result, domain.StyleSuggestion{
			Title:       title,
			Description: strings.TrimSpace(s.Description),
			Items:       normalizeItems(s.Items),
			Prompt:      strings.TrimSpace(s.Prompt),
		})
	}
	if len(result) == 0 {
		return g.useFallback(ctx, req, "no_suggestions", nil)
	}
	if req.Count > 0 && len(result) > req.Count {
		result = result[:req.Count]
	}
	g.logger.Debug().Str("provider", geminiProviderName).Int("count", len(result)).Msg("suggest: generated")
	return result, nil
}

func (g *GeminiProvider) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

func (g *GeminiProvider) useFallback(ctx context.Context, req Request, reason string, err error) ([]domain.StyleSuggestion, error) {
	if g.onFallback != nil {
		g.onFallback(reason, err)
	}
	g.logger.Warn().Err(err).Str("reason", reason).Msg("suggest: gemini unavailable, using fallback")
	return g.fallback.Suggest(ctx, req)
}

func buildSuggestPrompt(req Request) string {
	count := req.Count
	if count <= 0 {
		count = 3
	}
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "You are a personal stylist. Propose %d distinct outfits built around the uploaded item. Respond strictly with JSON matching this schema: ", count)
	sb.WriteString(`{"suggestions":[{"title":string,"description":string,"items":string[],"prompt":string}]}`)
	fmt.Fprintf(sb, ". The prompt field is an English image-generation prompt describing the full outfit. Input details: occasion=%q, mode=%q", req.Occasion, req.Mode)
	if s := strings.TrimSpace(req.StylePrompt); s != "" {
		fmt.Fprintf(sb, ", preferred_style=%q", s)
	}
	if s := strings.TrimSpace(req.CustomPrompt); s != "" {
		fmt.Fprintf(sb, ", notes=%q", s)
	}
	if len(req.Profile) > 0 {
		keys := make([]string, 0, len(req.Profile))
		for k := range req.Profile {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(sb, ", profile.%s=%v", k, req.Profile[k])
		}
	}
	sb.WriteString(".")
	return sb.String()
}

var _ Provider = (*GeminiProvider)(nil)
