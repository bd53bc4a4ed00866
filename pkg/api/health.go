package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/shutter/pkg/metrics"
)

// readiness builds the /ready checks. The process is ready once the
// supervisor has started and the store answers; the worker bootstrap may
// still be running.
func (s *Server) readiness() *metrics.Readiness {
	r := metrics.NewReadiness(0)

	r.Add("supervisor", func(ctx context.Context) (string, error) {
		if s.opts.Supervisor == nil {
			return "", errors.New("not initialized")
		}
		select {
		case <-s.opts.Supervisor.Ready():
			return fmt.Sprintf("ready (%d workers)", len(s.opts.Supervisor.Workers())), nil
		default:
			return "", errors.New("starting")
		}
	})

	r.Add("storage", func(ctx context.Context) (string, error) {
		if s.opts.Store == nil {
			return "", errors.New("not initialized")
		}
		if err := s.opts.Store.Ping(); err != nil {
			return "", err
		}
		return "ok", nil
	})

	r.Add("broker", func(ctx context.Context) (string, error) {
		if s.opts.Broker == nil {
			return "disabled", nil
		}
		return fmt.Sprintf("ok (%d subscribers)", s.opts.Broker.SubscriberCount()), nil
	})

	return r
}
