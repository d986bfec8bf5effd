package model

import (
	"encoding/json"
	"time"
)

// ScrapeStatus is the lifecycle state of a UniqueURL
type ScrapeStatus string

const (
	ScrapeStatusPending   ScrapeStatus = "pending"
	ScrapeStatusCompleted ScrapeStatus = "completed"
	ScrapeStatusFailed    ScrapeStatus = "failed"
)

// IsValid reports whether s is one of the known statuses
func (s ScrapeStatus) IsValid() bool {
	switch s {
	case ScrapeStatusPending, ScrapeStatusCompleted, ScrapeStatusFailed:
		return true
	}
	return false
}

// ProductData is the opaque payload attached to a UniqueURL
type ProductData map[string]any

// UniqueURL is one row per distinct canonical URL, shared across projects
type UniqueURL struct {
	ID             string       `json:"id"`
	URL            string       `json:"url"`
	Domain         string       `json:"domain"`
	ScrapingStatus ScrapeStatus `json:"scraping_status"`
	LastScraped    *time.Time   `json:"last_scraped,omitempty"`
	ProductData    ProductData  `json:"product_data,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// SerpURLMapping links one ranking-result observation to one UniqueURL
type SerpURLMapping struct {
	SerpResultID string    `json:"serp_result_id"`
	UniqueURLID  string    `json:"unique_url_id"`
	Position     *int      `json:"position,omitempty"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RankingResult is one observation of one URL for one keyword at one scrape time.
// An empty CompetitorID or Domain means the value is unset.
type RankingResult struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id"`
	KeywordID          string          `json:"keyword_id"`
	CompetitorID       string          `json:"competitor_id,omitempty"`
	ScrapedAt          time.Time       `json:"scraped_at"`
	Position           *int            `json:"position,omitempty"`
	URL                string          `json:"url,omitempty"`
	Domain             string          `json:"domain,omitempty"`
	Title              string          `json:"title,omitempty"`
	Description        string          `json:"description,omitempty"`
	Price              *float64        `json:"price,omitempty"`
	Currency           string          `json:"currency,omitempty"`
	PriceOriginal      *float64        `json:"price_original,omitempty"`
	DiscountPercentage *int            `json:"discount_percentage,omitempty"`
	Availability       string          `json:"availability,omitempty"`
	StockStatus        string          `json:"stock_status,omitempty"`
	MerchantName       string          `json:"merchant_name,omitempty"`
	MerchantURL        string          `json:"merchant_url,omitempty"`
	Rating             *float64        `json:"rating,omitempty"`
	ReviewsCount       *int            `json:"reviews_count,omitempty"`
	ImageURL           string          `json:"image_url,omitempty"`
	AdditionalImages   []string        `json:"additional_images,omitempty"`
	RawData            json.RawMessage `json:"raw_data,omitempty"`
}
