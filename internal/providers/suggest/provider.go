// Package suggest produces the style suggestions a job fans out into.
package suggest

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lookbook/internal/domain"
)

const (
	staticProviderName = "static"
	geminiProviderName = "gemini"
)

// Request carries the job input relevant to suggestion generation.
type Request struct {
	Occasion     string
	Mode         string
	Profile      map[string]any
	CustomPrompt string
	StylePrompt  string
	Count        int
}

// RequestFromInput builds a Request for count suggestions.
func RequestFromInput(in domain.JobInput, count int) Request {
	return Request{
		Occasion:     in.Occasion,
		Mode:         in.Mode,
		Profile:      in.Profile,
		CustomPrompt: in.CustomPrompt,
		StylePrompt:  in.StylePrompt,
		Count:        count,
	}
}

type Provider interface {
	Suggest(ctx context.Context, req Request) ([]domain.StyleSuggestion, error)
}

// StaticProvider returns canned suggestions built from the occasion. It never
// fails and backs the Gemini provider.
type StaticProvider struct{}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

var staticLooks = []struct {
	title string
	desc  string
	items []string
}{
	{"classic %s", "Clean tailored lines in neutral tones, built around the selected item.", []string{"tailored trousers", "crisp shirt", "leather loafers"}},
	{"relaxed %s", "Soft layers and easy silhouettes that keep the item as the focal point.", []string{"knit cardigan", "straight jeans", "white sneakers"}},
	{"statement %s", "Bold contrast and one standout accessory to lift the item.", []string{"structured blazer", "wide-leg pants", "chunky jewelry"}},
	{"minimal %s", "A monochrome palette with a single texture change.", []string{"fine-gauge sweater", "slip skirt", "ankle boots"}},
}

func (s *StaticProvider) Suggest(ctx context.Context, req Request) ([]domain.StyleSuggestion, error) {
	c := cases.Title(language.English)
	occasion := strings.TrimSpace(req.Occasion)
	if occasion == "" {
		occasion = "everyday"
	}
	count := req.Count
	if count <= 0 || count > len(staticLooks) {
		count = len(staticLooks)
	}
	out := make([]domain.StyleSuggestion, 0, count)
	for _, look := range staticLooks[:count] {
		title := c.String(fmt.Sprintf(look.title, occasion))
		out = append(out, domain.StyleSuggestion{
			Title:       title,
			Description: look.desc,
			Items:       append([]string(nil), look.items...),
			Prompt:      fmt.Sprintf("%s outfit for %s: %s", title, occasion, strings.Join(look.items, ", ")),
		})
	}
	return out, nil
}

var _ Provider = (*StaticProvider)(nil)
