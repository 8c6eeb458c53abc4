package breakers

import (
	"errors"
	"time"

	cb "github.com/sony/gobreaker"
)

// ErrOpen is returned while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker is open")

// Settings tunes a Breaker. Zero values take the defaults of New.
type Settings struct {
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
	Interval            time.Duration
	Timeout             time.Duration
	OnStateChange       func(name string, from, to string)
	// IsSuccessful classifies errors that should not count as failures
	IsSuccessful func(err error) bool
}

type Breaker struct{ cb *cb.CircuitBreaker }

// New returns a breaker that trips after 3 consecutive failures, or when more
// than 5% of at least 20 calls in the interval failed
func New(name string) *Breaker {
	return NewWithSettings(name, Settings{})
}

func NewWithSettings(name string, s Settings) *Breaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 3
	}
	if s.MinRequests == 0 {
		s.MinRequests = 20
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.05
	}
	if s.Interval == 0 {
		s.Interval = 60 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 60 * time.Second
	}

	st := cb.Settings{Name: name, Interval: s.Interval, Timeout: s.Timeout}
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= s.ConsecutiveFailures {
			return true
		}
		if counts.Requests < s.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > s.FailureRatio
	}
	if s.IsSuccessful != nil {
		st.IsSuccessful = s.IsSuccessful
	}
	if s.OnStateChange != nil {
		st.OnStateChange = func(name string, from, to cb.State) {
			s.OnStateChange(name, from.String(), to.String())
		}
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn unless the breaker is open; open-state rejections return
// ErrOpen
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return v, err
}

// Do is Execute for calls without a result
func (b *Breaker) Do(fn func() error) error {
	_, err := b.Execute(func() (any, error) { return nil, fn() })
	return err
}

// State returns "closed", "half-open" or "open"
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Name() string { return b.cb.Name() }
