package broker

import (
	"context"

	"github.com/utterlabs/utter/spec"
)

// Consumer defines a consumer receiving job events via message broker
type Consumer interface {
	Close()
	ReceiveJobEvents(ctx context.Context) (<-chan *spec.JobEvent, error)
}
