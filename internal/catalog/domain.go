package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("book not found")
	ErrAlreadyExists = errors.New("book already exists")
)

// Book is one catalog title, keyed by ISBN. TotalCopies is catalog metadata;
// AvailableCopies is mutated only by the circulation engine.
type Book struct {
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title,omitempty"`
	Authors         []string  `json:"authors,omitempty"`
	Publisher       string    `json:"publisher,omitempty"`
	PublishedDate   string    `json:"published_date,omitempty"`
	Description     string    `json:"description,omitempty"`
	Categories      []string  `json:"categories,omitempty"`
	CoverURL        string    `json:"cover_url,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
