package task

import (
	"strings"
	"time"
)

// Spec describes a task before a store assigns it an id.
//
// At is the absolute first due time (zero means "as soon as possible").
// Every makes the task repeat with that period. SkipFirst defers the first run
// to creation time + Every and is only valid together with Every.
type Spec struct {
	Name      string
	Action    Action
	At        time.Time
	Every     time.Duration
	SkipFirst bool
}

// Option configures a Spec.
type Option func(*Spec)

// ExecuteAt sets the absolute time of the first run.
func ExecuteAt(at time.Time) Option { return func(s *Spec) { s.At = at } }

// RepeatEvery makes the task repeat with the given period.
func RepeatEvery(every time.Duration) Option { return func(s *Spec) { s.Every = every } }

// SkipFirstExecution defers the first run by one period from creation time.
func SkipFirstExecution() Option { return func(s *Spec) { s.SkipFirst = true } }

// Named sets a human readable name (used in logs and by durable stores).
func Named(name string) Option { return func(s *Spec) { s.Name = strings.TrimSpace(name) } }

// NewSpec builds a validated spec. At defaults to time.Now().
func NewSpec(action Action, opts ...Option) (Spec, error) {
	s := Spec{Action: action, At: time.Now()}
	for _, o := range opts {
		if o != nil {
			o(&s)
		}
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

func (s Spec) Validate() error {
	if s.Action == nil {
		return ErrNilAction
	}
	if s.Every < 0 {
		return ErrInvalidPeriod
	}
	if s.SkipFirst && s.Every == 0 {
		return ErrSkipWithoutPeriod
	}
	return nil
}
