package signaling

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrCapacityExhausted = errors.New("signaling: rtp port pool exhausted")

// PortPool hands out even RTP ports (RTCP takes port+1) from a fixed range.
// Allocation fails closed once every port is in use.
type PortPool struct {
	min, max int

	mu    sync.Mutex
	free  []int
	inUse map[int]struct{}

	total int
	used  atomic.Int64
}

func NewPortPool(min, max int) (*PortPool, error) {
	if min <= 0 || max > 65535 || max <= min {
		return nil, fmt.Errorf("signaling: invalid rtp port range %d-%d", min, max)
	}
	if min%2 != 0 {
		min++
	}

	p := &PortPool{min: min, max: max, inUse: make(map[int]struct{})}
	for port := min; port+1 <= max; port += 2 {
		p.free = append(p.free, port)
	}
	if len(p.free) == 0 {
		return nil, fmt.Errorf("signaling: rtp port range %d-%d holds no port pairs", min, max)
	}
	p.total = len(p.free)
	return p, nil
}

// Allocate takes the next free port. Released ports go to the back of the queue.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, ErrCapacityExhausted
	}
	port := p.free[0]
	p.free = p.free[1:]
	p.inUse[port] = struct{}{}
	p.used.Add(1)
	return port, nil
}

// Release returns port to the pool. It reports false when the port was not
// allocated, which makes duplicate releases harmless.
func (p *PortPool) Release(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inUse[port]; !ok {
		return false
	}
	delete(p.inUse, port)
	p.free = append(p.free, port)
	p.used.Add(-1)
	return true
}

// Capacity is a point-in-time view of the pool.
type Capacity struct {
	Total     int `json:"total"`
	InUse     int `json:"in_use"`
	Available int `json:"available"`
}

// Snapshot reads the counters without taking the allocation lock.
func (p *PortPool) Snapshot() Capacity {
	used := int(p.used.Load())
	return Capacity{Total: p.total, InUse: used, Available: p.total - used}
}
