package coordinator

import (
	"context"
	"time"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/runstore"
)

// livenessCheck treats a worker as dead once its most recent heartbeat is
// older than timeout, excluding workers that reported COMPLETED normally,
// and reports whether the resulting dead fraction of totalExpected exceeds
// maxDeadFraction (spec §4.7 liveness monitoring; the max_dead_fraction
// abort trigger).
func livenessCheck(ctx context.Context, rs runstore.RunStore, runID string, totalExpected int, timeout time.Duration, maxDeadFraction float64, now time.Time) (deadCount int, abort bool, err error) {
	hbs, err := rs.ListHeartbeats(ctx, runID)
	if err != nil {
		return 0, false, err
	}
	for _, hb := range hbs {
		if hb.Status == model.WorkerCompleted {
			continue
		}
		if now.Sub(hb.LastHeartbeat) > timeout {
			deadCount++
		}
	}
	if totalExpected <= 0 {
		return deadCount, false, nil
	}
	return deadCount, float64(deadCount)/float64(totalExpected) > maxDeadFraction, nil
}
