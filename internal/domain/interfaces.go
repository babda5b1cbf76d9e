package domain

import (
	"context"
	"time"
)

// DataProvider supplies aligned, gap-free history. It is the only way the
// engine reaches stored data.
type DataProvider interface {
	// GetAssets returns reference data for the requested symbols, in request order
	GetAssets(ctx context.Context, symbols []string) ([]Asset, error)

	// GetFeatureMatrix returns features for symbols over [start, end]
	GetFeatureMatrix(ctx context.Context, symbols []string, start, end time.Time) (FeatureMatrix, error)

	// GetReturns returns realized simple returns for symbols over [start, end]
	GetReturns(ctx context.Context, symbols []string, start, end time.Time) (ReturnPath, error)
}
