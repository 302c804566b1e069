package service

import (
	"time"

	"github.com/neKamita/telegram-star-manager/internal/model"
)

type settings struct {
	now        func() time.Time
	newOrderID func(time.Time) string
}

// Option customizes a service.
type Option func(*settings)

// WithClock replaces time.Now. Returned times are converted to UTC.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithOrderIDs replaces the generator used for orders created without an id.
func WithOrderIDs(gen func(time.Time) string) Option {
	return func(s *settings) { s.newOrderID = gen }
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now, newOrderID: model.NewOrderID}
	for _, opt := range opts {
		opt(&s)
	}
	base := s.now
	s.now = func() time.Time { return base().UTC() }
	return s
}
