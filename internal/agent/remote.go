package agent

import (
	"math/rand"
	"sync"

	"dasim/internal/common"
)

// Remote is a human trader's queue. Orders arrive out of band and are
// submitted one per turn, in arrival order.
type Remote struct {
	mu    sync.Mutex
	queue []common.Order
}

func (r *Remote) Kind() Kind { return User }

func (r *Remote) Enqueue(order common.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, order)
}

func (r *Remote) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Remote) Decide(int, Quotes, History, *rand.Rand) (common.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return common.Order{}, false
	}
	order := r.queue[0]
	r.queue = r.queue[1:]
	return order, true
}
