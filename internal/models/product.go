package models

import "strings"

// Product is an item whose labels are printed in the field.
type Product struct {
	SyncMeta
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Barcode       string `json:"barcode,omitempty"`
	ShelfLifeDays int    `json:"shelf_life_days"`
	Conservation  string `json:"conservation,omitempty"` // ambient, refrigerated, frozen
	LocationID    int64  `json:"location_id"`
	IsActive      bool   `json:"is_active"`
}

// TableName returns the table name for Product.
func (Product) TableName() string {
	return "products"
}

// Indexed returns the values used by status, date and text filters.
func (p *Product) Indexed() IndexFields {
	status := "inactive"
	if p.IsActive {
		status = "active"
	}
	return IndexFields{
		Status: status,
		Date:   p.UpdatedAt,
		Text:   strings.TrimSpace(p.Name + " " + p.Barcode + " " + p.Description),
	}
}
