package segmentation

// arena stores cluster records addressed by generational IDs. Freed slots are reused through a free
// list.
type arena struct {
	records []*Cluster
	gens    []uint32
	free    []int32
	live    int
	limit   int
	created int
}

func newArena(limit int) *arena {
	return &arena{limit: limit}
}

// alloc returns a fresh cluster record, or an AllocationError once limit records are in use.
func (a *arena) alloc() (*Cluster, error) {
	if a.limit > 0 && a.live >= a.limit {
		return nil, &AllocationError{Limit: a.limit}
	}
	var idx int32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = int32(len(a.records))
		a.records = append(a.records, nil)
		a.gens = append(a.gens, 0)
	}
	a.gens[idx]++
	c := &Cluster{id: ClusterID{index: idx, gen: a.gens[idx]}}
	a.records[idx] = c
	a.live++
	a.created++
	return c, nil
}

// get returns the cluster for id, or nil if id is nil or stale.
func (a *arena) get(id ClusterID) *Cluster {
	if id.IsNil() || int(id.index) >= len(a.records) {
		return nil
	}
	if a.gens[id.index] != id.gen {
		return nil
	}
	return a.records[id.index]
}

// release frees the record of id. Stale IDs are ignored.
func (a *arena) release(id ClusterID) {
	if a.get(id) == nil {
		return
	}
	a.records[id.index] = nil
	// bump so that id goes stale right away
	a.gens[id.index]++
	a.free = append(a.free, id.index)
	a.live--
}

// root returns the active root of the merge tree holding id, compressing the path on the way.
func (a *arena) root(id ClusterID) ClusterID {
	c := a.get(id)
	if c == nil {
		return ClusterID{}
	}
	r := c
	for !r.up.IsNil() {
		next := a.get(r.up)
		if next == nil {
			break
		}
		r = next
	}
	for c != r {
		next := a.get(c.up)
		c.up = r.id
		c = next
	}
	return r.id
}

// each calls f for every allocated record in slot order.
func (a *arena) each(f func(c *Cluster)) {
	for _, c := range a.records {
		if c != nil {
			f(c)
		}
	}
}
