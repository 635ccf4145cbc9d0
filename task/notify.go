package task

import (
	"context"
	"fmt"

	"github.com/utterlabs/utter/spec"
	"github.com/utterlabs/utter/spec/broker"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Notifier hands a job event to the notification collaborator
type Notifier interface {
	Notify(ctx context.Context, event *spec.JobEvent) error
}

// LogNotifier records events to the log. Actual delivery (email/SMS) is
// owned by the external notification collaborator.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier
func (n *LogNotifier) Notify(ctx context.Context, event *spec.JobEvent) error {
	n.Logger.Info("Job reached terminal state",
		zap.String("JobID", event.JobID),
		zap.String("UserID", event.UserID),
		zap.String("Status", event.Status),
		zap.Int64("BilledCharacters", event.BilledCharacters),
	)
	return nil
}

// NotifyOptions contains the dependencies for the notification task
type NotifyOptions struct {
	Consumer broker.Consumer
	Notifier Notifier
	Logger   *zap.Logger
}

// NotifyTask relays terminal job events from the broker to the Notifier
type NotifyTask struct {
	NotifyOptions
}

// NewNotifyTask will create a NotifyTask
func NewNotifyTask(option NotifyOptions) (*NotifyTask, error) {
	if option.Consumer == nil {
		return nil, fmt.Errorf("nil Consumer is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &NotifyTask{
		NotifyOptions: option,
	}, nil
}

// HandleEvents consumes job events until ctx is cancelled
func (t *NotifyTask) HandleEvents(ctx context.Context) error {
	events, err := t.Consumer.ReceiveJobEvents(ctx)
	if err != nil {
		return extErrors.Wrap(err, "Cannot get job events channel")
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := t.Notifier.Notify(ctx, event); err != nil {
					t.Logger.Error("Unable to notify for job event",
						zap.String("JobID", event.JobID),
						zap.Error(err),
					)
				}
			}
		}
	}()
	return nil
}
