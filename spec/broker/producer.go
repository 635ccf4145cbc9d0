package broker

import (
	"github.com/utterlabs/utter/spec"
)

// Producer defines a producer publishing job events via message broker
type Producer interface {
	Close()
	PublishJobEvent(event *spec.JobEvent) error
}
