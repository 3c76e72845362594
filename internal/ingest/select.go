package ingest

import (
	"errors"
	"fmt"

	"ssh-sentry/internal/logging"
	"ssh-sentry/internal/metrics"
)

// ErrNoSource is returned when every strategy fails
var ErrNoSource = errors.New("no log source available")

// Select starts the first available source in order. The choice is made once;
// a source that later fails is not replaced.
func Select(sources ...Source) (Source, <-chan LogLine, error) {
	var errs []error
	for _, s := range sources {
		if err := s.Available(); err != nil {
			logging.Warn().Err(err).Str("source", s.Name()).Msg("[INGEST] Source unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		lines, err := s.Start()
		if err != nil {
			logging.Warn().Err(err).Str("source", s.Name()).Msg("[INGEST] Source failed to start")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		logging.Info().Str("source", s.Name()).Msg("[INGEST] Active log source selected")
		metrics.ActiveSource.WithLabelValues(s.Name()).Set(1)
		return s, lines, nil
	}
	return nil, nil, errors.Join(append([]error{ErrNoSource}, errs...)...)
}
