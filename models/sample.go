package models

import "time"

const (
	KindSample = "sample"
	KindLoop   = "loop"
	KindTrack  = "track"
)

// Sample is a purchasable content item. Filename is the stored name of the
// backing audio file and doubles as the content locator for delivery.
type Sample struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename"`
	Kind      string    `json:"kind"`
	BPM       int       `json:"bpm,omitempty"`
	Credits   int64     `json:"credits"`
	PackID    string    `json:"pack_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Pack groups samples into a purchasable bundle. TotalCredits is always
// computed from the live member list, never stored.
type Pack struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Genre        string    `json:"genre,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	SampleCount  int       `json:"sample_count"`
	TotalCredits int64     `json:"total_credits"`
}
