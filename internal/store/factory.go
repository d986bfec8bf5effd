package store

import (
	"encoding/json"
	"fmt"

	"github.com/shaibs3/shopwatch/internal/store/postgres"
	"github.com/shaibs3/shopwatch/internal/telemetry"
	"go.uber.org/zap"
)

// Factory defines the interface for creating stores
type Factory interface {
	CreateStore(configJSON string) (Store, error)
}

// StoreFactory creates stores from a JSON configuration
type StoreFactory struct {
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
}

func NewStoreFactory(logger *zap.Logger, tel *telemetry.Telemetry) *StoreFactory {
	return &StoreFactory{
		logger:    logger.Named("factory"),
		telemetry: tel,
	}
}

func (f *StoreFactory) CreateStore(configJSON string) (Store, error) {
	if configJSON == "" {
		configJSON = `{"db_type":"memory"}`
	}

	var config StoreConfig
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return nil, fmt.Errorf("failed to parse store configuration JSON: %w", err)
	}

	f.logger.Info("creating store", zap.String("db_type", config.DbType.String()))

	if !config.DbType.IsValid() {
		return nil, fmt.Errorf("unsupported database type: %s", config.DbType)
	}

	switch config.DbType {
	case DbTypePostgres:
		return postgres.NewStore(config, f.logger)
	case DbTypeMemory:
		f.logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DbType)
	}
}
