package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ProjectRow is the schema of the projects table
type ProjectRow struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	Name          string `gorm:"size:255;not null"`
	Description   string `gorm:"type:text;not null;default:''"`
	IsActive      bool   `gorm:"not null;default:true;index"`
	ReferenceSite string `gorm:"size:255;not null;default:''"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Keywords    []KeywordRow    `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Competitors []CompetitorRow `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Results     []SerpResultRow `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (ProjectRow) TableName() string { return "projects" }

type KeywordRow struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	ProjectID    string `gorm:"type:uuid;not null;uniqueIndex:uq_keyword_project_location,priority:1"`
	Keyword      string `gorm:"size:500;not null;uniqueIndex:uq_keyword_project_location,priority:2"`
	Location     string `gorm:"size:50;not null;uniqueIndex:uq_keyword_project_location,priority:3"`
	Language     string `gorm:"size:10;not null"`
	SearchVolume *int
	IsActive     bool `gorm:"not null;default:true"`
	CreatedAt    time.Time

	Results []SerpResultRow `gorm:"foreignKey:KeywordID;constraint:OnDelete:CASCADE"`
}

func (KeywordRow) TableName() string { return "keywords" }

type CompetitorRow struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	ProjectID   string `gorm:"type:uuid;not null;uniqueIndex:uq_competitor_project_domain,priority:1"`
	Name        string `gorm:"size:255;not null"`
	Domain      string `gorm:"size:255;not null;uniqueIndex:uq_competitor_project_domain,priority:2"`
	BrandName   string `gorm:"size:255;not null;default:''"`
	IsMainBrand bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time

	Results []SerpResultRow `gorm:"foreignKey:CompetitorID;constraint:OnDelete:SET NULL"`
}

func (CompetitorRow) TableName() string { return "competitors" }

type UniqueURLRow struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	URL            string     `gorm:"type:text;not null;uniqueIndex"`
	Domain         string     `gorm:"size:255;not null;default:'';index"`
	ScrapingStatus string     `gorm:"size:20;not null;default:'pending';index"`
	LastScraped    *time.Time `gorm:"index"`
	ProductData    []byte     `gorm:"type:jsonb"`
	CreatedAt      time.Time

	Mappings []SerpURLMappingRow `gorm:"foreignKey:UniqueURLID;constraint:OnDelete:CASCADE"`
}

func (UniqueURLRow) TableName() string { return "unique_urls" }

type SerpResultRow struct {
	ID                 string    `gorm:"type:uuid;primaryKey"`
	ProjectID          string    `gorm:"type:uuid;not null;index:idx_serp_project_scraped,priority:1"`
	KeywordID          string    `gorm:"type:uuid;not null;index"`
	CompetitorID       *string   `gorm:"type:uuid;index"`
	ScrapedAt          time.Time `gorm:"not null;index:idx_serp_project_scraped,priority:2"`
	Position           *int
	URL                string  `gorm:"type:text;not null;default:''"`
	Domain             *string `gorm:"size:255;index"`
	Title              string  `gorm:"type:text;not null;default:''"`
	Description        string  `gorm:"type:text;not null;default:''"`
	Price              *float64
	Currency           string `gorm:"size:10;not null;default:''"`
	PriceOriginal      *float64
	DiscountPercentage *int
	Availability       string `gorm:"size:100;not null;default:''"`
	StockStatus        string `gorm:"size:100;not null;default:''"`
	MerchantName       string `gorm:"size:255;not null;default:''"`
	MerchantURL        string `gorm:"type:text;not null;default:''"`
	Rating             *float64
	ReviewsCount       *int
	ImageURL           string         `gorm:"type:text;not null;default:''"`
	AdditionalImages   pq.StringArray `gorm:"type:text[]"`
	RawData            []byte         `gorm:"type:jsonb"`

	Mappings []SerpURLMappingRow `gorm:"foreignKey:SerpResultID;constraint:OnDelete:CASCADE"`
}

func (SerpResultRow) TableName() string { return "serp_results" }

type SerpURLMappingRow struct {
	SerpResultID string `gorm:"type:uuid;primaryKey"`
	UniqueURLID  string `gorm:"type:uuid;primaryKey"`
	Position     *int
	Title        string `gorm:"type:text;not null;default:''"`
	Description  string `gorm:"type:text;not null;default:''"`
	CreatedAt    time.Time
}

func (SerpURLMappingRow) TableName() string { return "serp_url_mappings" }

// Migrate creates or updates the schema on an open connection
func Migrate(ctx context.Context, db *sql.DB) error {
	gormDB, err := gorm.Open(gormpg.New(gormpg.Config{Conn: db}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open GORM connection: %w", err)
	}
	err = gormDB.WithContext(ctx).AutoMigrate(
		&ProjectRow{},
		&KeywordRow{},
		&CompetitorRow{},
		&UniqueURLRow{},
		&SerpResultRow{},
		&SerpURLMappingRow{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}
