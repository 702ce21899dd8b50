package notify

import (
	"context"

	"github.com/yanun0323/logs"
)

// LogSink writes notifications to the process log.
type LogSink struct{}

func (LogSink) Send(_ context.Context, msg Message) error {
	logs.Infof("notify: %s %s", msg.Event, formatPayload(msg.Payload))
	return nil
}
