package sink

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"
)

// Instance is a spool agent seen by the sink, keyed by its
// X-Instance-ID header.
type Instance struct {
	InstanceID  string `json:"instance_id"`
	Service     string `json:"service"`
	IP          string `json:"ip"`
	FirstSeenAt int64  `json:"first_seen_at"`
	LastSeenAt  int64  `json:"last_seen_at"`
	Batches     int64  `json:"batches"`
	Records     int64  `json:"records"`
}

// Instances tracks the agents that shipped batches recently.
type Instances struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	now       func() time.Time
}

// NewInstances creates an empty tracker.
func NewInstances() *Instances {
	return &Instances{
		instances: make(map[string]*Instance),
		now:       time.Now,
	}
}

// Observe records one accepted batch of n records from id.
func (t *Instances) Observe(id, service, remoteAddr string, n int) {
	if id == "" {
		return
	}
	now := t.now().Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[id]
	if !ok {
		inst = &Instance{InstanceID: id, FirstSeenAt: now}
		t.instances[id] = inst
	}
	if service != "" {
		inst.Service = service
	}
	inst.IP = hostOf(remoteAddr)
	inst.LastSeenAt = now
	inst.Batches++
	inst.Records += int64(n)
}

// Get returns a copy of the instance with the given id.
func (t *Instances) Get(id string) (Instance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// List returns all instances ordered by id.
func (t *Instances) List() []Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := make([]Instance, 0, len(t.instances))
	for _, inst := range t.instances {
		list = append(list, *inst)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].InstanceID < list[j].InstanceID })
	return list
}

// Prune drops instances not seen within timeout and returns how many
// were removed.
func (t *Instances) Prune(timeout time.Duration) int {
	cutoff := t.now().Add(-timeout).Unix()

	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for id, inst := range t.instances {
		if inst.LastSeenAt < cutoff {
			delete(t.instances, id)
			count++
		}
	}
	return count
}

// StartPruneLoop prunes every interval until ctx is done.
func (t *Instances) StartPruneLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Prune(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
