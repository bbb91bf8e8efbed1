package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrBackpressure means the concurrency cap was reached and the request
// was not admitted under the configured policy.
var ErrBackpressure = errors.New("concurrency limit reached")

// AdmissionPolicy decides what happens to requests beyond the cap.
type AdmissionPolicy string

const (
	// PolicyQueue holds the request up to the configured wait before
	// rejecting it.
	PolicyQueue AdmissionPolicy = "queue"
	// PolicyReject rejects immediately.
	PolicyReject AdmissionPolicy = "reject"
)

// admission is the single shared synchronization point between in-flight
// requests: a counting semaphore over live sandboxes. Everything else a
// request touches is its own.
type admission struct {
	slots     chan struct{}
	policy    AdmissionPolicy
	queueWait time.Duration
}

func newAdmission(capacity int, policy AdmissionPolicy, queueWait time.Duration) *admission {
	if capacity < 1 {
		capacity = 10
	}
	if policy != PolicyReject {
		policy = PolicyQueue
	}
	if queueWait <= 0 {
		queueWait = 5 * time.Second
	}
	return &admission{
		slots:     make(chan struct{}, capacity),
		policy:    policy,
		queueWait: queueWait,
	}
}

// acquire takes a slot, queuing or rejecting per policy. A nil return
// means the caller holds a slot and must release it.
func (a *admission) acquire(ctx context.Context) error {
	select {
	case a.slots <- struct{}{}:
		return nil
	default:
	}

	if a.policy == PolicyReject {
		return ErrBackpressure
	}

	timer := time.NewTimer(a.queueWait)
	defer timer.Stop()

	select {
	case a.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBackpressure
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *admission) release() {
	<-a.slots
}

// inFlight returns the number of admitted requests right now.
func (a *admission) inFlight() int {
	return len(a.slots)
}
