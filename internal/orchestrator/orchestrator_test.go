package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lookbook/internal/domain"
	"lookbook/internal/providers/kling"
)

type fakeClient struct {
	mu          sync.Mutex
	submitErr   map[string]error
	statuses    map[string][]*kling.TaskStatus
	statusErr   error
	submits     map[string]int
	statusCalls map[string]int
	bodies      map[string]any
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		submitErr:   map[string]error{},
		statuses:    map[string][]*kling.TaskStatus{},
		submits:     map[string]int{},
		statusCalls: map[string]int{},
		bodies:      map[string]any{},
	}
}

func (f *fakeClient) Submit(_ context.Context, ep kling.Endpoint, body any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits[ep.Name]++
	f.bodies[ep.Name] = body
	if err := f.submitErr[ep.Name]; err != nil {
		return "", err
	}
	return ep.Name + "-task", nil
}

func (f *fakeClient) Status(_ context.Context, ep kling.Endpoint, taskID string) (*kling.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[ep.Name]++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	seq := f.statuses[ep.Name]
	if len(seq) == 0 {
		return &kling.TaskStatus{TaskID: taskID, Status: "processing"}, nil
	}
	st := seq[0]
	if len(seq) > 1 {
		f.statuses[ep.Name] = seq[1:]
	}
	return st, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestOrchestrator(client TaskClient) *Orchestrator {
	return New(Options{Client: client, PollInterval: time.Millisecond, MaxAttempts: 40, Sleep: noSleep})
}

func TestRunTaskReturnsExactURL(t *testing.T) {
	client := newFakeClient()
	client.statuses["stylize"] = []*kling.TaskStatus{
		{Status: "submitted"},
		{Status: "processing"},
		{Status: "succeed", URL: "https://cdn.kling/exact.png"},
	}
	url, err := newTestOrchestrator(client).RunTask(context.Background(), TaskRequest{Endpoint: kling.Stylize})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if url != "https://cdn.kling/exact.png" {
		t.Fatalf("url = %q", url)
	}
	if client.statusCalls["stylize"] != 3 {
		t.Fatalf("status calls = %d, want 3", client.statusCalls["stylize"])
	}
}

func TestRunTaskFailureCarriesReason(t *testing.T) {
	client := newFakeClient()
	client.statuses["tryon"] = []*kling.TaskStatus{{Status: "failed", Message: "NSFW"}}
	_, err := newTestOrchestrator(client).RunTask(context.Background(), TaskRequest{Endpoint: kling.TryOn})
	if !errors.Is(err, domain.ErrRemoteTaskFailed) {
		t.Fatalf("err = %v, want ErrRemoteTaskFailed", err)
	}
	if !strings.Contains(err.Error(), "NSFW") {
		t.Fatalf("err = %q, want it to mention NSFW", err)
	}
	te, ok := IsTaskError(err)
	if !ok || te.TaskID != "tryon-task" || te.Stage != "tryon" {
		t.Fatalf("task error = %+v", te)
	}
}

func TestRunTaskTimesOutAfterMaxAttempts(t *testing.T) {
	client := newFakeClient()
	var sleeps int
	orch := New(Options{
		Client:      client,
		MaxAttempts: 40,
		Sleep: func(context.Context, time.Duration) error {
			sleeps++
			return nil
		},
	})
	_, err := orch.RunTask(context.Background(), TaskRequest{Endpoint: kling.Stylize})
	if !errors.Is(err, domain.ErrPollingTimeout) {
		t.Fatalf("err = %v, want ErrPollingTimeout", err)
	}
	if client.statusCalls["stylize"] != 40 {
		t.Fatalf("status calls = %d, want 40", client.statusCalls["stylize"])
	}
	if sleeps != 39 {
		t.Fatalf("sleeps = %d, want 39", sleeps)
	}
}

func TestRunTaskSubmitAndStatusErrors(t *testing.T) {
	remote := &kling.APIError{StatusCode: 500, Body: `{"message":"upstream"}`}

	client := newFakeClient()
	client.submitErr["stylize"] = remote
	_, err := newTestOrchestrator(client).RunTask(context.Background(), TaskRequest{Endpoint: kling.Stylize})
	if !errors.Is(err, domain.ErrRemoteSubmitFailed) {
		t.Fatalf("submit err = %v, want ErrRemoteSubmitFailed", err)
	}
	var apiErr *kling.APIError
	if !errors.As(err, &apiErr) || apiErr.Body == "" {
		t.Fatalf("submit err should expose remote body, got %v", err)
	}
	if client.statusCalls["stylize"] != 0 {
		t.Fatalf("status polled after failed submit")
	}

	client = newFakeClient()
	client.statusErr = remote
	_, err = newTestOrchestrator(client).RunTask(context.Background(), TaskRequest{Endpoint: kling.Stylize})
	if !errors.Is(err, domain.ErrRemoteStatusCheckFailed) {
		t.Fatalf("status err = %v, want ErrRemoteStatusCheckFailed", err)
	}
	if client.statusCalls["stylize"] != 1 {
		t.Fatalf("status calls = %d, want 1", client.statusCalls["stylize"])
	}
}

func TestRunTaskSuccessWithoutURL(t *testing.T) {
	client := newFakeClient()
	client.statuses["stylize"] = []*kling.TaskStatus{{Status: "succeed"}}
	_, err := newTestOrchestrator(client).RunTask(context.Background(), TaskRequest{Endpoint: kling.Stylize})
	if !errors.Is(err, domain.ErrRemoteTaskFailed) {
		t.Fatalf("err = %v, want ErrRemoteTaskFailed", err)
	}
}

func TestRunTaskStopsOnCancel(t *testing.T) {
	client := newFakeClient()
	ctx, cancel := context.WithCancel(context.Background())
	orch := New(Options{Client: client, PollInterval: time.Hour, MaxAttempts: 40})
	done := make(chan error, 1)
	go func() {
		_, err := orch.RunTask(ctx, TaskRequest{Endpoint: kling.Stylize})
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("RunTask did not stop after cancel")
	}
}

func TestPipelineStageOneFailureSkipsStageTwo(t *testing.T) {
	client := newFakeClient()
	client.statuses["stylize"] = []*kling.TaskStatus{{Status: "failed", Message: "bad prompt"}}
	p := NewPipeline(newTestOrchestrator(client), PipelineOptions{})

	res, err := p.Run(context.Background(), PipelineInput{Provider: domain.ProviderKling, Prompt: "p", UserImageURL: "u", ItemImageURL: "i"})
	if !errors.Is(err, domain.ErrRemoteTaskFailed) {
		t.Fatalf("err = %v, want ErrRemoteTaskFailed", err)
	}
	if client.submits["tryon"] != 0 {
		t.Fatalf("try-on submitted %d times after stage one failure", client.submits["tryon"])
	}
	if len(res.StylizedImageURLs) != 0 || len(res.TryOnImageURLs) != 0 {
		t.Fatalf("unexpected partial result: %+v", res)
	}
}

func TestPipelineChainsStageOutput(t *testing.T) {
	client := newFakeClient()
	client.statuses["stylize"] = []*kling.TaskStatus{{Status: "succeed", URL: "https://cdn/stylized.png"}}
	client.statuses["tryon"] = []*kling.TaskStatus{{Status: "succeed", URL: "https://cdn/final.png"}}
	p := NewPipeline(newTestOrchestrator(client), PipelineOptions{TryOnModel: "tryon-model"})

	res, err := p.Run(context.Background(), PipelineInput{Provider: domain.ProviderKling, Prompt: "p", UserImageURL: "https://cdn/me.jpg", ItemImageURL: "https://cdn/item.jpg"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StylizedImageURLs[0] != "https://cdn/stylized.png" || res.TryOnImageURLs[0] != "https://cdn/final.png" {
		t.Fatalf("result = %+v", res)
	}
	body, ok := client.bodies["tryon"].(kling.TryOnRequest)
	if !ok {
		t.Fatalf("try-on body type %T", client.bodies["tryon"])
	}
	if body.ClothImage != "https://cdn/stylized.png" || body.HumanImage != "https://cdn/me.jpg" || body.ModelName != "tryon-model" {
		t.Fatalf("try-on body = %+v", body)
	}
}

func TestPipelineSingleStageUsesItemImage(t *testing.T) {
	client := newFakeClient()
	client.statuses["tryon"] = []*kling.TaskStatus{{Status: "succeed", URL: "https://cdn/final.png"}}
	p := NewPipeline(newTestOrchestrator(client), PipelineOptions{})

	res, err := p.Run(context.Background(), PipelineInput{Provider: domain.ProviderKlingTryOn, UserImageURL: "https://cdn/me.jpg", ItemImageURL: "https://cdn/item.jpg"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.submits["stylize"] != 0 {
		t.Fatalf("stylize should be skipped for single-stage provider")
	}
	if body := client.bodies["tryon"].(kling.TryOnRequest); body.ClothImage != "https://cdn/item.jpg" {
		t.Fatalf("cloth image = %q, want item image", body.ClothImage)
	}
	if len(res.StylizedImageURLs) != 0 || res.TryOnImageURLs[0] != "https://cdn/final.png" {
		t.Fatalf("result = %+v", res)
	}
}

func TestBuildPrompt(t *testing.T) {
	in := domain.JobInput{Occasion: "wedding", StylePrompt: "boho", CustomPrompt: "no heels"}
	got := BuildPrompt(in, domain.StyleSuggestion{Title: "Garden", Description: "soft pastels", Items: []string{"maxi dress", "sandals"}})
	for _, want := range []string{"Garden. soft pastels", "Outfit: maxi dress, sandals", "Occasion: wedding", "Style: boho", "no heels"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt %q missing %q", got, want)
		}
	}
	withPrompt := BuildPrompt(domain.JobInput{}, domain.StyleSuggestion{Title: "x", Prompt: "explicit prompt"})
	if !strings.HasPrefix(withPrompt, "explicit prompt") || strings.Contains(withPrompt, "Outfit:") {
		t.Fatalf("prompt = %q", withPrompt)
	}
}
