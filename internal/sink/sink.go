package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/metrics"
	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/pkg/logger"
)

var ErrSinkWrite = errors.New("result sink write failed")

// Sink persists result rows. Append must not return before the row is durable
// and must be safe for concurrent use.
type Sink interface {
	Name() string
	Append(ctx context.Context, row models.ResultRow) error
	Close() error
}

// Multi appends every row to each sink in order and stops at the first failure.
type Multi struct {
	mu    sync.Mutex
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string {
	return "multi"
}

func (m *Multi) Append(ctx context.Context, row models.ResultRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sinks {
		if err := s.Append(ctx, row); err != nil {
			metrics.SinkWritesTotal.WithLabelValues(s.Name(), "error").Inc()
			if errors.Is(err, ErrSinkWrite) {
				return err
			}
			return fmt.Errorf("%w: %s: %w", ErrSinkWrite, s.Name(), err)
		}
		metrics.SinkWritesTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
	return nil
}

func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			logger.Error("Failed to close sink", zap.String("sink", s.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
