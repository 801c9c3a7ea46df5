// README: Fan-out publisher that hands each batch to every configured sink.
package notify

import (
	"context"
	"errors"
	"fmt"

	"poolride/internal/events"
	"poolride/internal/observability"
)

type Sink struct {
	Name      string
	Publisher events.Publisher
}

// Fanout delivers to every sink even when one fails and reports the joined errors.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Publish(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publisher.Publish(ctx, evts); err != nil {
			observability.EventsPublished.WithLabelValues(s.Name, "error").Add(float64(len(evts)))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		observability.EventsPublished.WithLabelValues(s.Name, "ok").Add(float64(len(evts)))
	}
	return errors.Join(errs...)
}
