package models

import "encoding/json"

// LabelTemplate describes the geometry and layout of a printable product label.
// Rendering is done by the printer collaborator; the layout is opaque here.
type LabelTemplate struct {
	SyncMeta
	Name        string          `json:"name"`
	WidthMM     float64         `json:"width_mm"`
	HeightMM    float64         `json:"height_mm"`
	Orientation string          `json:"orientation"` // portrait, landscape
	Layout      json.RawMessage `json:"layout,omitempty"`
	IsDefault   bool            `json:"is_default"`
	LocationID  int64           `json:"location_id"`
}

// TableName returns the table name for LabelTemplate.
func (LabelTemplate) TableName() string {
	return "label_templates"
}

// Indexed returns the values used by status, date and text filters.
func (l *LabelTemplate) Indexed() IndexFields {
	status := "custom"
	if l.IsDefault {
		status = "default"
	}
	return IndexFields{
		Status: status,
		Date:   l.UpdatedAt,
		Text:   l.Name,
	}
}
