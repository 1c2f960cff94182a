package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// SuggestionStatus enumerates the per-candidate sub-pipeline states.
type SuggestionStatus string

const (
	SuggestionStatusPending          SuggestionStatus = "pending"
	SuggestionStatusGeneratingImages SuggestionStatus = "generating_images"
	SuggestionStatusSucceeded        SuggestionStatus = "succeeded"
	SuggestionStatusFailed           SuggestionStatus = "failed"
)

// IsTerminal reports whether the suggestion finished its sub-pipeline.
func (s SuggestionStatus) IsTerminal() bool {
	return s == SuggestionStatusSucceeded || s == SuggestionStatusFailed
}

// Provider selects which remote workflow a job runs through.
type Provider string

const (
	// ProviderKling runs stylize followed by try-on.
	ProviderKling Provider = "kling"
	// ProviderKlingTryOn runs try-on only, using the item image as the garment.
	ProviderKlingTryOn Provider = "kling-tryon"
)

// DefaultUserID is assigned when no authenticated identity is available.
const DefaultUserID = "default"

// PendingPrompt is stored as finalPrompt until the generation step computes it.
const PendingPrompt = "pending"

// NormalizeProvider maps free-form input onto a supported provider.
func NormalizeProvider(p string) Provider {
	switch Provider(strings.ToLower(strings.TrimSpace(p))) {
	case ProviderKlingTryOn:
		return ProviderKlingTryOn
	default:
		return ProviderKling
	}
}

// TwoStage reports whether the provider runs stylize before try-on.
func (p Provider) TwoStage() bool {
	return p != ProviderKlingTryOn
}

// SourceImage is one uploaded image referenced by a job.
type SourceImage struct {
	URL          string `json:"url"`
	ContentType  string `json:"contentType"`
	OriginalName string `json:"originalName"`
}

// JobInput is captured once when the job is created and never written afterwards.
type JobInput struct {
	UserImage    SourceImage    `json:"userImage"`
	ItemImage    SourceImage    `json:"itemImage"`
	Occasion     string         `json:"occasion"`
	Mode         string         `json:"mode"`
	Profile      map[string]any `json:"profile,omitempty"`
	CustomPrompt string         `json:"customPrompt,omitempty"`
	StylePrompt  string         `json:"stylePrompt,omitempty"`
	Provider     Provider       `json:"provider"`
}

// Validate checks the fields required to create a job.
func (in JobInput) Validate() error {
	var missing []string
	if strings.TrimSpace(in.UserImage.URL) == "" {
		missing = append(missing, "userImage.url")
	}
	if strings.TrimSpace(in.ItemImage.URL) == "" {
		missing = append(missing, "itemImage.url")
	}
	if strings.TrimSpace(in.Occasion) == "" {
		missing = append(missing, "occasion")
	}
	if strings.TrimSpace(in.Mode) == "" {
		missing = append(missing, "mode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

// StyleSuggestion is the AI-produced recommendation for one candidate look.
type StyleSuggestion struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Items       []string `json:"items,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
}

// Suggestion is one index-addressed candidate inside a job.
type Suggestion struct {
	Index             int              `json:"index"`
	Status            SuggestionStatus `json:"status"`
	StyleSuggestion   StyleSuggestion  `json:"styleSuggestion"`
	FinalPrompt       string           `json:"finalPrompt"`
	StylizedImageURLs []string         `json:"stylizedImageUrls,omitempty"`
	TryOnImageURLs    []string         `json:"tryOnImageUrls,omitempty"`
	Error             string           `json:"error,omitempty"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// FinalImageURL returns the try-on output, or the stylized output for single-stage runs.
func (s Suggestion) FinalImageURL() string {
	if n := len(s.TryOnImageURLs); n > 0 {
		return s.TryOnImageURLs[n-1]
	}
	if n := len(s.StylizedImageURLs); n > 0 {
		return s.StylizedImageURLs[n-1]
	}
	return ""
}

// Job encapsulates the lifecycle of one styling request.
type Job struct {
	ID          string       `json:"jobId"`
	UserID      string       `json:"userId"`
	Status      JobStatus    `json:"status"`
	Input       JobInput     `json:"input"`
	Suggestions []Suggestion `json:"suggestions"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// NewJob builds a pending job owned by userID.
func NewJob(id, userID string, input JobInput, now time.Time) *Job {
	if strings.TrimSpace(userID) == "" {
		userID = DefaultUserID
	}
	return &Job{
		ID:          id,
		UserID:      userID,
		Status:      JobStatusPending,
		Input:       input,
		Suggestions: []Suggestion{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so transitions can be tried without touching the stored record.
func (j *Job) Clone() *Job {
	c := *j
	c.Input.Profile = maps.Clone(j.Input.Profile)
	c.Suggestions = make([]Suggestion, len(j.Suggestions))
	for i, s := range j.Suggestions {
		s.StyleSuggestion.Items = slices.Clone(s.StyleSuggestion.Items)
		s.StylizedImageURLs = slices.Clone(s.StylizedImageURLs)
		s.TryOnImageURLs = slices.Clone(s.TryOnImageURLs)
		c.Suggestions[i] = s
	}
	return &c
}

// NeedsSuggestions reports whether style suggestions still have to be fetched.
func (j *Job) NeedsSuggestions() bool {
	return len(j.Suggestions) == 0
}

// Suggestion returns a pointer to the candidate at index.
func (j *Job) Suggestion(index int) (*Suggestion, error) {
	if index < 0 || index >= len(j.Suggestions) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrInvalidSuggestion, index, len(j.Suggestions))
	}
	return &j.Suggestions[index], nil
}

// SetSuggestions materialises the candidate list and moves the job to processing.
func (j *Job) SetSuggestions(items []StyleSuggestion, now time.Time) error {
	if len(j.Suggestions) > 0 {
		return fmt.Errorf("%w: suggestions already set", ErrInvalidTransition)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: no style suggestions", ErrInvalidInput)
	}
	j.Suggestions = make([]Suggestion, len(items))
	for i, item := range items {
		j.Suggestions[i] = Suggestion{
			Index:           i,
			Status:          SuggestionStatusPending,
			StyleSuggestion: item,
			FinalPrompt:     PendingPrompt,
			UpdatedAt:       now,
		}
	}
	j.Status = JobStatusProcessing
	j.Error = ""
	j.touch(now)
	return nil
}

// StartSuggestion moves a candidate to generating_images. Callers must hold
// the pipeline lease, so a candidate already in generating_images was left
// behind by a crashed run and may be restarted.
func (j *Job) StartSuggestion(index int, now time.Time) error {
	s, err := j.Suggestion(index)
	if err != nil {
		return err
	}
	switch s.Status {
	case SuggestionStatusPending, SuggestionStatusFailed, SuggestionStatusGeneratingImages:
	default:
		return fmt.Errorf("%w: suggestion %d is %s", ErrInvalidTransition, index, s.Status)
	}
	s.Status = SuggestionStatusGeneratingImages
	s.Error = ""
	s.StylizedImageURLs = nil
	s.TryOnImageURLs = nil
	s.UpdatedAt = now
	if j.Status != JobStatusCompleted {
		j.Status = JobStatusProcessing
	}
	j.touch(now)
	return nil
}

// SetFinalPrompt records the text passed to the image-generation step.
func (j *Job) SetFinalPrompt(index int, prompt string, now time.Time) error {
	s, err := j.Suggestion(index)
	if err != nil {
		return err
	}
	s.FinalPrompt = prompt
	s.UpdatedAt = now
	j.touch(now)
	return nil
}

// CompleteSuggestion records stage outputs and marks the candidate succeeded.
func (j *Job) CompleteSuggestion(index int, stylized, tryOn []string, now time.Time) error {
	s, err := j.Suggestion(index)
	if err != nil {
		return err
	}
	if s.Status != SuggestionStatusGeneratingImages {
		return fmt.Errorf("%w: suggestion %d is %s", ErrInvalidTransition, index, s.Status)
	}
	s.Status = SuggestionStatusSucceeded
	s.StylizedImageURLs = append([]string(nil), stylized...)
	s.TryOnImageURLs = append([]string(nil), tryOn...)
	s.Error = ""
	s.UpdatedAt = now
	j.Status = JobStatusCompleted
	j.Error = ""
	j.touch(now)
	return nil
}

// FailSuggestion marks the candidate failed and derives the job-level status.
func (j *Job) FailSuggestion(index int, reason string, now time.Time) error {
	s, err := j.Suggestion(index)
	if err != nil {
		return err
	}
	if s.Status != SuggestionStatusGeneratingImages {
		return fmt.Errorf("%w: suggestion %d is %s", ErrInvalidTransition, index, s.Status)
	}
	s.Status = SuggestionStatusFailed
	s.Error = reason
	s.UpdatedAt = now
	j.Error = reason
	j.Status = j.deriveStatus()
	j.touch(now)
	return nil
}

// Fail marks the whole job failed, used when suggestions could not be produced.
func (j *Job) Fail(reason string, now time.Time) {
	j.Status = JobStatusFailed
	j.Error = reason
	j.touch(now)
}

func (j *Job) deriveStatus() JobStatus {
	running := false
	for _, s := range j.Suggestions {
		switch s.Status {
		case SuggestionStatusSucceeded:
			return JobStatusCompleted
		case SuggestionStatusGeneratingImages:
			running = true
		}
	}
	if running {
		return JobStatusProcessing
	}
	return JobStatusFailed
}

func (j *Job) touch(now time.Time) {
	j.UpdatedAt = now
}
