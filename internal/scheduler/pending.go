package scheduler

// pendingSet is the run's working set. Batches are taken from the front of
// the queue and URLs that need another try go to the back, so a few stuck
// URLs cannot keep the rest of the set out of every batch. Not safe for
// concurrent use; only the coordinator touches it.
type pendingSet struct {
	members map[string]struct{}
	queue   []string
}

func newPendingSet() *pendingSet {
	return &pendingSet{members: make(map[string]struct{})}
}

// Add ignores URLs that are already members.
func (p *pendingSet) Add(url string) {
	if _, ok := p.members[url]; ok {
		return
	}
	p.members[url] = struct{}{}
	p.queue = append(p.queue, url)
}

// Take removes up to n URLs from the queue. They stay members until
// Remove or Requeue settles them.
func (p *pendingSet) Take(n int) []string {
	if n > len(p.queue) {
		n = len(p.queue)
	}
	batch := make([]string, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	return batch
}

func (p *pendingSet) Requeue(url string) {
	if _, ok := p.members[url]; ok {
		p.queue = append(p.queue, url)
	}
}

// Remove is permanent: a removed URL is never added back in the same run.
func (p *pendingSet) Remove(url string) {
	delete(p.members, url)
}

func (p *pendingSet) Len() int {
	return len(p.members)
}

func (p *pendingSet) Contains(url string) bool {
	_, ok := p.members[url]
	return ok
}
