package proxy

import "sync/atomic"

// Rotator hands out proxies round-robin from a fixed list. It keeps no
// health state: a failing proxy is handed out again on its next turn.
type Rotator struct {
	proxies []Proxy
	next    atomic.Uint64
}

// NewRotator copies the list so later changes by the caller are not seen.
func NewRotator(proxies []Proxy) (*Rotator, error) {
	if len(proxies) == 0 {
		return nil, ErrEmptyList
	}
	list := make([]Proxy, len(proxies))
	copy(list, proxies)
	return &Rotator{proxies: list}, nil
}

// Next is safe for concurrent use.
func (r *Rotator) Next() Proxy {
	i := r.next.Add(1) - 1
	return r.proxies[i%uint64(len(r.proxies))]
}

func (r *Rotator) Size() int {
	return len(r.proxies)
}
