package drivers

import (
	"context"
	"time"

	"github.com/lyzr/agentflow/common/workflow"
)

// maxSleepSeconds caps a single sleep node at one hour.
const maxSleepSeconds = 3600

// SleepDriver pauses the walk for a configured duration and passes the
// input through. The wait honors context cancellation so an aborted
// execution does not pin a worker.
type SleepDriver struct{}

func (SleepDriver) Type() string { return "sleep" }

func (SleepDriver) Execute(ctx context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	duration := node.DataFloat("duration", 1)
	unit := node.DataString("unit", "seconds")

	var seconds float64
	switch unit {
	case "milliseconds":
		seconds = duration / 1000
	case "seconds":
		seconds = duration
	case "minutes":
		seconds = duration * 60
	case "hours":
		seconds = duration * 3600
	default:
		return workflow.ErrorResponse("Invalid time unit: %s. Use 'milliseconds', 'seconds', 'minutes', or 'hours'.", unit)
	}

	if seconds < 0 {
		return workflow.ErrorResponse("Duration must be positive")
	}
	if seconds > maxSleepSeconds {
		return workflow.ErrorResponse("Duration cannot exceed 1 hour (3600 seconds)")
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return workflow.ErrorResponse("Sleep error: %v", ctx.Err())
	}

	return workflow.OKResponse(wctx.Input).
		WithExtra("slept_seconds", seconds).
		WithExtra("unit", unit).
		WithExtra("original_duration", duration)
}
