package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"lookbook/internal/domain"
	"lookbook/internal/providers/kling"
)

type PipelineOptions struct {
	StylizeModel string
	TryOnModel   string
}

// Pipeline chains the stylize and try-on stages. Stages run strictly in order
// and a failed first stage never reaches the second.
type Pipeline struct {
	orch         *Orchestrator
	stylizeModel string
	tryOnModel   string
}

func NewPipeline(orch *Orchestrator, opts PipelineOptions) *Pipeline {
	stylize := strings.TrimSpace(opts.StylizeModel)
	if stylize == "" {
		stylize = "kling-v1-5"
	}
	tryOn := strings.TrimSpace(opts.TryOnModel)
	if tryOn == "" {
		tryOn = "kolors-virtual-try-on-v1-5"
	}
	return &Pipeline{orch: orch, stylizeModel: stylize, tryOnModel: tryOn}
}

type PipelineInput struct {
	JobID        string
	Index        int
	Provider     domain.Provider
	Prompt       string
	UserImageURL string
	ItemImageURL string
}

type PipelineResult struct {
	StylizedImageURLs []string
	TryOnImageURLs    []string
}

// Run executes the workflow for in.Provider. On error the result still holds
// any stage output produced before the failure.
func (p *Pipeline) Run(ctx context.Context, in PipelineInput) (*PipelineResult, error) {
	res := &PipelineResult{}
	garment := in.ItemImageURL
	if in.Provider.TwoStage() {
		url, err := p.orch.RunTask(ctx, TaskRequest{
			Endpoint: kling.Stylize,
			Body:     kling.NewStylizeRequest(p.stylizeModel, in.Prompt, in.ItemImageURL),
			JobID:    in.JobID,
			Index:    in.Index,
		})
		if err != nil {
			return res, err
		}
		res.StylizedImageURLs = []string{url}
		garment = url
	}
	url, err := p.orch.RunTask(ctx, TaskRequest{
		Endpoint: kling.TryOn,
		Body:     kling.NewTryOnRequest(p.tryOnModel, in.UserImageURL, garment),
		JobID:    in.JobID,
		Index:    in.Index,
	})
	if err != nil {
		return res, err
	}
	res.TryOnImageURLs = []string{url}
	return res, nil
}

// BuildPrompt composes the text sent to the stylize stage.
func BuildPrompt(in domain.JobInput, s domain.StyleSuggestion) string {
	var parts []string
	if p := strings.TrimSpace(s.Prompt); p != "" {
		parts = append(parts, p)
	} else {
		head := strings.TrimSpace(s.Title)
		if d := strings.TrimSpace(s.Description); d != "" {
			head = strings.TrimSpace(head + ". " + d)
		}
		if head != "" {
			parts = append(parts, head)
		}
		if len(s.Items) > 0 {
			parts = append(parts, "Outfit: "+strings.Join(s.Items, ", "))
		}
	}
	if o := strings.TrimSpace(in.Occasion); o != "" {
		parts = append(parts, fmt.Sprintf("Occasion: %s", o))
	}
	if st := strings.TrimSpace(in.StylePrompt); st != "" {
		parts = append(parts, fmt.Sprintf("Style: %s", st))
	}
	if c := strings.TrimSpace(in.CustomPrompt); c != "" {
		parts = append(parts, c)
	}
	parts = append(parts, "Full-body fashion photo, studio lighting, the featured item clearly visible")
	return strings.Join(parts, ". ")
}
