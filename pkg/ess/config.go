package ess

import (
	"context"
	"fmt"

	"github.com/gridboost/gridboost/pkg/storage"
	"github.com/levenlabs/go-lflag"
)

// Configured sets up the ESS backend selected by the ess-provider flag. The
// sim backend keeps its state in db.
func Configured(db storage.Database) System {
	provider := lflag.String("ess-provider", "mqtt", "inverter backend to use (available: mqtt, modbus, sim)")

	var s struct{ System }

	mq := configuredMQTT()
	dy := configuredDeye()
	sim := configuredSim(db)

	lflag.Do(func() {
		ctx := context.Background()
		switch *provider {
		case "mqtt":
			if err := mq.Connect(ctx); err != nil {
				panic(fmt.Sprintf("mqtt connect failed: %v", err))
			}
			s.System = mq
		case "modbus":
			if err := dy.Connect(ctx); err != nil {
				panic(fmt.Sprintf("modbus connect failed: %v", err))
			}
			s.System = dy
		case "sim":
			s.System = sim
		default:
			panic(fmt.Sprintf("unknown ess provider: %s", *provider))
		}
	})

	return &s
}
