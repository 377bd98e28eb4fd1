package models

import "time"

// Visual is a screenshot or similar attachment owned by a commit.
//
// Presence of CloudURL is the sync marker; visuals carry no version counter.
// StorageKey holds the canonical object-store key so deletion never has to be
// reconstructed from the URL.
type Visual struct {
	ID         string
	CommitID   string
	Path       string
	CloudURL   string
	StorageKey string
	CapturedAt time.Time
	Caption    string
}

// Uploaded reports whether the visual already exists in cloud storage.
func (v *Visual) Uploaded() bool {
	return v.CloudURL != ""
}
