package store

import (
	"encoding/json"
	"testing"

	"github.com/shaibs3/shopwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreFactory_CreateStore_Memory(t *testing.T) {
	factory := NewStoreFactory(zap.NewNop(), telemetry.NewNoop())

	configJSON, err := json.Marshal(StoreConfig{DbType: DbTypeMemory, ExtraDetails: map[string]interface{}{}})
	require.NoError(t, err)

	s, err := factory.CreateStore(string(configJSON))
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}

func TestStoreFactory_CreateStore_EmptyConfigDefaultsToMemory(t *testing.T) {
	s, err := NewStoreFactory(zap.NewNop(), nil).CreateStore("")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}

func TestStoreFactory_CreateStore_Errors(t *testing.T) {
	factory := NewStoreFactory(zap.NewNop(), nil)

	_, err := factory.CreateStore("{not json")
	require.Error(t, err)

	_, err = factory.CreateStore(`{"db_type":"csv"}`)
	require.ErrorContains(t, err, "unsupported database type")

	_, err = factory.CreateStore(`{"db_type":"postgres","extra_details":{}}`)
	require.ErrorContains(t, err, "conn_str")
}
