package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDataProvider struct {
	assets []Asset
}

func (m *mockDataProvider) GetAssets(ctx context.Context, symbols []string) ([]Asset, error) {
	return m.assets, nil
}

func (m *mockDataProvider) GetFeatureMatrix(ctx context.Context, symbols []string, start, end time.Time) (FeatureMatrix, error) {
	return FeatureMatrix{Symbols: symbols}, nil
}

func (m *mockDataProvider) GetReturns(ctx context.Context, symbols []string, start, end time.Time) (ReturnPath, error) {
	return ReturnPath{Symbols: symbols}, nil
}

// TestDataProviderInterface verifies the mock satisfies the contract
func TestDataProviderInterface(t *testing.T) {
	var provider DataProvider = &mockDataProvider{assets: []Asset{{Symbol: "AAA", Sector: "tech"}}}

	assets, err := provider.GetAssets(context.Background(), []string{"AAA"})
	require.NoError(t, err)
	assert.Equal(t, "tech", assets[0].Sector)
}
