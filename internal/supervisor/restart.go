package supervisor

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RestartPolicy decides whether and when an exited worker is replaced
type RestartPolicy struct {
	Enabled        bool
	MaxRestarts    int           // per slot within Window, 0 = unlimited
	Window         time.Duration // also the uptime after which a slot's backoff resets
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	return p
}

// restarter keeps a restart budget and a backoff per slot
type restarter struct {
	policy RestartPolicy
	now    func() time.Time

	mu       sync.Mutex
	budgets  map[int][]*rate.Limiter
	backoffs map[int]*backoff.ExponentialBackOff
}

func newRestarter(policy RestartPolicy) *restarter {
	return &restarter{
		policy:   policy.withDefaults(),
		now:      time.Now,
		budgets:  make(map[int][]*rate.Limiter),
		backoffs: make(map[int]*backoff.ExponentialBackOff),
	}
}

// budget returns MaxRestarts single-token limiters for slot. Each token
// comes back one Window after it was spent, so no Window holds more than
// MaxRestarts restarts.
func (r *restarter) budget(slot int) []*rate.Limiter {
	b, ok := r.budgets[slot]
	if !ok {
		b = make([]*rate.Limiter, r.policy.MaxRestarts)
		for i := range b {
			b[i] = rate.NewLimiter(rate.Every(r.policy.Window), 1)
		}
		r.budgets[slot] = b
	}
	return b
}

func (r *restarter) allow(slot int) bool {
	now := r.now()
	for _, l := range r.budget(slot) {
		if l.AllowN(now, 1) {
			return true
		}
	}
	return false
}

func (r *restarter) backoff(slot int) *backoff.ExponentialBackOff {
	b, ok := r.backoffs[slot]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = r.policy.InitialBackoff
		b.MaxInterval = r.policy.MaxBackoff
		b.Multiplier = r.policy.Multiplier
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		r.backoffs[slot] = b
	}
	return b
}

// next returns the delay before slot is restarted. ok is false when the
// policy is disabled or the slot has used its restart budget.
func (r *restarter) next(slot int, uptime time.Duration) (delay time.Duration, ok bool) {
	if !r.policy.Enabled {
		return 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy.MaxRestarts > 0 && !r.allow(slot) {
		return 0, false
	}

	b := r.backoff(slot)
	if uptime >= r.policy.Window {
		b.Reset()
	}
	return b.NextBackOff(), true
}
