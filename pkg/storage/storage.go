package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridboost/gridboost/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// ErrCorrupt is returned when a stored document cannot be decoded.
var ErrCorrupt = errors.New("corrupt document")

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Tracker histories. A missing document returns an empty history and
	// version 0.
	GetPVHistory(ctx context.Context) (types.PVHistory, int, error)
	SetPVHistory(ctx context.Context, history types.PVHistory, version int) error
	GetLoadHistory(ctx context.Context) (types.LoadHistory, int, error)
	SetLoadHistory(ctx context.Context, history types.LoadHistory, version int) error

	// Results
	InsertResult(ctx context.Context, result types.BoostResult) error
	GetLatestResult(ctx context.Context) (*types.BoostResult, error)
	GetResultHistory(ctx context.Context, start, end time.Time) ([]types.BoostResult, error)

	// Simulated ESS
	GetESSMockState(ctx context.Context) (types.ESSMockState, error)
	UpdateESSMockState(ctx context.Context, state types.ESSMockState) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
