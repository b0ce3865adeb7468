package usecase

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiters hands out one token bucket per host.
type hostLimiters struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func newHostLimiters(rps float64, burst int) *hostLimiters {
	if burst < 1 {
		burst = 1
	}
	return &hostLimiters{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *hostLimiters) get(host string) *rate.Limiter {
	host = strings.ToLower(host)

	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[host]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[host] = l
	return l
}
