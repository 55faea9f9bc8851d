package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"permit-workflow-api/config"

	"github.com/sirupsen/logrus"
)

const sideEffectTimeout = 30 * time.Second

// sideEffects runs post-commit work in the background. Failures and panics are logged and
// counted; they never reach the caller of the transition.
type sideEffects struct {
	wg sync.WaitGroup
}

func (s *sideEffects) dispatch(effect string, fields logrus.Fields, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				sideEffectFailures.WithLabelValues(effect).Inc()
				config.Log.WithFields(fields).WithField("effect", effect).
					Errorf("side effect panicked: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			sideEffectFailures.WithLabelValues(effect).Inc()
			config.Log.WithFields(fields).WithField("effect", effect).WithError(err).
				Warn("side effect failed")
		}
	}()
}

// wait blocks until in-flight side effects finish or ctx is done.
func (s *sideEffects) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("side effects still running: %w", ctx.Err())
	}
}
