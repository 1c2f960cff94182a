package domain

import (
	"fmt"
	"time"
)

// Look is the durable result of one successfully completed suggestion.
type Look struct {
	ID               string          `json:"id"`
	JobID            string          `json:"jobId"`
	SuggestionIndex  int             `json:"suggestionIndex"`
	UserID           string          `json:"userId"`
	UserImageURL     string          `json:"userImageUrl"`
	ItemImageURL     string          `json:"itemImageUrl"`
	StylizedImageURL string          `json:"stylizedImageUrl,omitempty"`
	FinalImageURL    string          `json:"finalImageUrl"`
	StorageKey       string          `json:"storageKey,omitempty"`
	MirrorAttempts   int             `json:"-"`
	Occasion         string          `json:"occasion"`
	StyleSuggestion  StyleSuggestion `json:"styleSuggestion"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// LookID derives the durable record key for a job candidate.
func LookID(jobID string, index int) string {
	return fmt.Sprintf("%s-%d", jobID, index)
}

// NewLook builds the record for a succeeded suggestion.
func NewLook(job *Job, index int, now time.Time) (*Look, error) {
	s, err := job.Suggestion(index)
	if err != nil {
		return nil, err
	}
	if s.Status != SuggestionStatusSucceeded {
		return nil, fmt.Errorf("%w: suggestion %d is %s", ErrInvalidTransition, index, s.Status)
	}
	look := &Look{
		ID:              LookID(job.ID, index),
		JobID:           job.ID,
		SuggestionIndex: index,
		UserID:          job.UserID,
		UserImageURL:    job.Input.UserImage.URL,
		ItemImageURL:    job.Input.ItemImage.URL,
		FinalImageURL:   s.FinalImageURL(),
		Occasion:        job.Input.Occasion,
		StyleSuggestion: s.StyleSuggestion,
		CreatedAt:       now,
	}
	if n := len(s.StylizedImageURLs); n > 0 {
		look.StylizedImageURL = s.StylizedImageURLs[n-1]
	}
	return look, nil
}
