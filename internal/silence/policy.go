package silence

import (
	"sync"
	"time"

	"github.com/amanullahtanweer/realtime-transcriber/internal/audio"
)

// DefaultTick is how often the remaining countdown is reported.
const DefaultTick = 100 * time.Millisecond

// State of the auto-commit policy
type State int

const (
	Idle State = iota
	CountingDown
	Fired
)

func (s State) String() string {
	switch s {
	case CountingDown:
		return "counting_down"
	case Fired:
		return "fired"
	default:
		return "idle"
	}
}

// Options configures a Policy.
type Options struct {
	Enabled bool
	Delay   time.Duration
	Tick    time.Duration
	Clock   Clock

	// Locker guards the policy. Callers hold it around every method call;
	// timer wakes acquire it before touching state.
	Locker sync.Locker

	// OnCountdown and OnFire run with Locker held.
	OnCountdown func(remaining time.Duration)
	OnFire      func()
}

// Policy decides when sustained silence should finalize the utterance.
// At most one timer is alive at any time.
type Policy struct {
	opts     Options
	state    State
	timer    Timer
	deadline time.Time
	gen      uint64
}

// New creates an idle policy.
func New(opts Options) *Policy {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Locker == nil {
		opts.Locker = &sync.Mutex{}
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.OnCountdown == nil {
		opts.OnCountdown = func(time.Duration) {}
	}
	if opts.OnFire == nil {
		opts.OnFire = func() {}
	}
	return &Policy{opts: opts}
}

// Observe feeds a VAD edge into the policy.
func (p *Policy) Observe(edge audio.Edge) {
	switch edge {
	case audio.EdgeSilenceStart:
		if !p.opts.Enabled || p.state != Idle || p.timer != nil {
			return
		}
		p.arm()

	case audio.EdgeSpeechStart:
		switch p.state {
		case CountingDown:
			p.cancel()
			p.state = Idle
			p.opts.OnCountdown(0)
		case Fired:
			p.state = Idle
		}
	}
}

// Stop returns the policy to Idle, cancelling any pending deadline.
func (p *Policy) Stop() {
	p.cancel()
	p.state = Idle
}

// State returns the current state.
func (p *Policy) State() State {
	return p.state
}

// Pending reports whether a timer is scheduled.
func (p *Policy) Pending() bool {
	return p.timer != nil
}

// Remaining returns the time left before the policy fires, or 0 when not counting down.
func (p *Policy) Remaining() time.Duration {
	if p.state != CountingDown {
		return 0
	}
	remaining := p.deadline.Sub(p.opts.Clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *Policy) arm() {
	p.state = CountingDown
	p.deadline = p.opts.Clock.Now().Add(p.opts.Delay)
	p.opts.OnCountdown(p.opts.Delay)
	p.schedule(p.opts.Delay)
}

func (p *Policy) schedule(remaining time.Duration) {
	wait := p.opts.Tick
	if remaining < wait {
		wait = remaining
	}

	p.gen++
	gen := p.gen
	p.timer = p.opts.Clock.AfterFunc(wait, func() {
		p.wake(gen)
	})
}

func (p *Policy) wake(gen uint64) {
	p.opts.Locker.Lock()
	defer p.opts.Locker.Unlock()

	// stale wake from a cancelled timer
	if gen != p.gen || p.state != CountingDown {
		return
	}
	p.timer = nil

	remaining := p.deadline.Sub(p.opts.Clock.Now())
	if remaining > 0 {
		p.opts.OnCountdown(remaining)
		p.schedule(remaining)
		return
	}

	p.state = Fired
	p.opts.OnCountdown(0)
	p.opts.OnFire()
}

func (p *Policy) cancel() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}
