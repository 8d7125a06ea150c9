package job

import "sync"

// StatusCache keeps the status of recent jobs in memory. Entries past
// Size are evicted oldest first; Size <= 0 means keep everything.
type StatusCache struct {
	Size int

	mtx   sync.RWMutex
	cache map[ID]Status
	order []ID
}

// SetStatus records the status of a job, becoming the job's creation
// when the ID is new.
func (c *StatusCache) SetStatus(id ID, status Status) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.cache == nil {
		c.cache = map[ID]Status{}
	}
	if _, ok := c.cache[id]; !ok {
		c.order = append(c.order, id)
		for c.Size > 0 && len(c.order) > c.Size {
			delete(c.cache, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.cache[id] = status
}

// Status returns the last status recorded for a job, if it is still
// cached.
func (c *StatusCache) Status(id ID) (Status, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	status, ok := c.cache[id]
	return status, ok
}

// Recent returns up to n cached statuses, newest first; n <= 0 means
// all of them.
func (c *StatusCache) Recent(n int) []Status {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if n <= 0 || n > len(c.order) {
		n = len(c.order)
	}
	statuses := make([]Status, 0, n)
	for i := len(c.order) - 1; i >= len(c.order)-n; i-- {
		statuses = append(statuses, c.cache[c.order[i]])
	}
	return statuses
}
