package idempotency

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemGuard is an in-process guard for tests and single-instance development
// runs. The value tracks whether the admission has been committed.
type MemGuard struct {
	records *xsync.MapOf[string, bool]
}

func NewMemGuard() *MemGuard {
	return &MemGuard{
		records: xsync.NewMapOf[string, bool](),
	}
}

func (g *MemGuard) IsProcessed(ctx context.Context, id string) bool {
	_, ok := g.records.Load(id)
	return ok
}

func (g *MemGuard) Admit(ctx context.Context, id string) (bool, error) {
	_, loaded := g.records.LoadOrStore(id, false)
	return !loaded, nil
}

func (g *MemGuard) Commit(ctx context.Context, id string) error {
	g.records.Store(id, true)
	return nil
}

func (g *MemGuard) Abandon(ctx context.Context, id string) error {
	if committed, ok := g.records.Load(id); ok && !committed {
		g.records.Delete(id)
	}
	return nil
}
