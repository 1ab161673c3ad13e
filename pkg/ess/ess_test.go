package ess

import (
	"log/slog"

	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/storage/storagemock"
)

type mockStorage = storagemock.MockDatabase

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}
