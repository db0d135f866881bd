package types

import "time"

// CardType is the variant tag of a research card.
type CardType string

const (
	CardText  CardType = "text"
	CardImage CardType = "image"
)

// Valid reports whether t is a storable card type.
func (t CardType) Valid() bool {
	return t == CardText || t == CardImage
}

// ProvenanceStatus is the verdict of an image provenance analysis.
type ProvenanceStatus string

const (
	ProvenanceUnverified  ProvenanceStatus = "unverified"
	ProvenancePending     ProvenanceStatus = "pending"
	ProvenanceAuthentic   ProvenanceStatus = "verified-authentic"
	ProvenanceCaution     ProvenanceStatus = "caution-advised"
	ProvenanceManipulated ProvenanceStatus = "warning-manipulated"
)

// ProvenanceResult holds the verdict and the model's findings.
type ProvenanceResult struct {
	Status   ProvenanceStatus `json:"status"`
	Findings string           `json:"findings"`
}

// Card is a single research card.
type Card struct {
	ID         int64             `json:"id"`
	Type       CardType          `json:"type"`
	Content    string            `json:"content"` // raw text, or a data URI for images
	SourceURL  string            `json:"sourceUrl"`
	CreatedAt  int64             `json:"createdAt"` // epoch milliseconds
	Summary    string            `json:"summary"`
	Tags       []string          `json:"tags"`
	Provenance *ProvenanceResult `json:"provenance,omitempty"`

	// Version is bumped by every successful replace. A replace carrying a
	// stale version is rejected.
	Version int `json:"version"`
}

// Created returns CreatedAt as a time.Time.
func (c Card) Created() time.Time {
	return time.UnixMilli(c.CreatedAt)
}

// Context-menu item ids registered by the relay.
const (
	MenuSaveSelection = "save-selection-to-cognito"
	MenuSaveImage     = "save-image-to-cognito"
	MenuSaveLink      = "save-link-to-cognito"
)

// ClipPayload is the transient content captured by a context-menu click.
type ClipPayload struct {
	MenuItemID      string `json:"menuItemId"`
	SelectionText   string `json:"selectionText,omitempty"`
	SrcURL          string `json:"srcUrl,omitempty"`
	LinkURL         string `json:"linkUrl,omitempty"`
	SourcePageURL   string `json:"sourcePageUrl"`
	SourcePageTitle string `json:"sourcePageTitle"`
}

// Availability is the tri-state of the on-device model as seen by the panel.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityReady
	AvailabilityUnavailable
)

func (a Availability) String() string {
	switch a {
	case AvailabilityReady:
		return "ready"
	case AvailabilityUnavailable:
		return "unavailable"
	}
	return "unknown"
}
