package model

import "time"

// Project is a monitoring scope owning keywords and competitors
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	IsActive      bool      `json:"is_active"`
	ReferenceSite string    `json:"reference_site,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Keyword is a search phrase tracked under a project.
// Unique per (project, keyword, location).
type Keyword struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Keyword      string    `json:"keyword"`
	Location     string    `json:"location"`
	Language     string    `json:"language"`
	SearchVolume *int      `json:"search_volume,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Competitor is a merchant identity under a project. Unique per (project, domain).
type Competitor struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Domain      string    `json:"domain"`
	BrandName   string    `json:"brand_name,omitempty"`
	IsMainBrand bool      `json:"is_main_brand"`
	CreatedAt   time.Time `json:"created_at"`
}

// DisplayName prefers the brand name when one is set
func (c Competitor) DisplayName() string {
	if c.BrandName != "" {
		return c.BrandName
	}
	return c.Name
}
