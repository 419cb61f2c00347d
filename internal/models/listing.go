package models

import (
	"strings"
	"time"
)

type ListingKind string

const (
	ListingVenue   ListingKind = "venue"
	ListingTrainer ListingKind = "trainer"
)

func (k ListingKind) Valid() bool {
	return k == ListingVenue || k == ListingTrainer
}

// Listing groups the slots of one venue or trainer under a stable id.
type Listing struct {
	ID             int64       `json:"id"`
	Kind           ListingKind `json:"kind"`
	OwnerID        int64       `json:"owner_id"`
	Name           string      `json:"name"`
	Location       string      `json:"location"`
	Category       string      `json:"category,omitempty"`
	Specialization string      `json:"specialization,omitempty"`
	IsActive       bool        `json:"is_active"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// CapacityLabel is the label the capacity classifier looks at.
func (l *Listing) CapacityLabel() string {
	if l.Kind == ListingTrainer && l.Specialization != "" {
		return l.Specialization
	}
	return l.Category
}

func (l *Listing) Validate() error {
	if !l.Kind.Valid() {
		return Invalid("kind", "must be venue or trainer")
	}
	if strings.TrimSpace(l.Name) == "" {
		return Invalid("name", "is required")
	}
	if strings.TrimSpace(l.Location) == "" {
		return Invalid("location", "is required")
	}
	if l.OwnerID <= 0 {
		return Invalid("owner_id", "is required")
	}
	return nil
}
