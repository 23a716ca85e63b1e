package countstore

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemCountStore is an in-process counter store for tests and development.
type MemCountStore struct {
	counts *xsync.MapOf[string, *xsync.Counter]
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts: xsync.NewMapOf[string, *xsync.Counter](),
	}
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	c, ok := s.counts.Load(periodBucket(name, val, period))
	if !ok {
		return 0, nil
	}
	return int(c.Value()), nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	for _, p := range []string{PeriodTotal, PeriodDay, PeriodHour} {
		if err := s.IncrementPeriod(ctx, name, val, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemCountStore) IncrementPeriod(ctx context.Context, name, val, period string) error {
	c, _ := s.counts.LoadOrCompute(periodBucket(name, val, period), func() *xsync.Counter {
		return xsync.NewCounter()
	})
	c.Inc()
	return nil
}
