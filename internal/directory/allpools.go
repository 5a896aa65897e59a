package directory

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dexcore/internal/model"
)

// AllPools enumerates every pool in the token x token x fee matrix. Phase
// one runs cheap existence checks in aggressive batches; phase two fetches
// multi-field state only for confirmed pools in smaller, harder-throttled
// batches. A single pool's detail failure drops that pool and the rest of
// the batch proceeds.
func (d *Directory) AllPools(ctx context.Context) ([]model.PoolState, error) {
	keys := d.pairKeys()

	type hit struct {
		key  pairKey
		addr common.Address
	}
	found := make([]*hit, len(keys))

	for start := 0; start < len(keys); start += d.cfg.ExistBatchSize {
		end := start + d.cfg.ExistBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				addr, err := d.lookupPool(gctx, keys[i].tokenA, keys[i].tokenB, keys[i].fee)
				if err != nil {
					// Failed checks count as absent for this pass but are
					// not cached, so later lookups retry.
					d.logger.Debug("existence check failed",
						zap.String("token_a", keys[i].tokenA),
						zap.String("token_b", keys[i].tokenB),
						zap.Uint32("fee", keys[i].fee),
						zap.Error(err),
					)
					return nil
				}
				if addr == (common.Address{}) {
					d.store(poolKey(keys[i].tokenA, keys[i].tokenB, keys[i].fee), nil)
					return nil
				}
				found[i] = &hit{key: keys[i], addr: addr}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if end < len(keys) {
			if err := sleepCtx(ctx, d.cfg.ExistBatchPause); err != nil {
				return nil, err
			}
		}
	}

	var existing []*hit
	for _, h := range found {
		if h != nil {
			existing = append(existing, h)
		}
	}

	d.logger.Info("pool discovery complete",
		zap.Int("checked", len(keys)),
		zap.Int("existing", len(existing)),
	)

	states := make([]*model.PoolState, len(existing))
	for start := 0; start < len(existing); start += d.cfg.DetailBatchSize {
		end := start + d.cfg.DetailBatchSize
		if end > len(existing) {
			end = len(existing)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				state, err := d.fetchState(gctx, existing[i].addr)
				if err != nil {
					d.logger.Warn("pool detail fetch failed",
						zap.String("pool", existing[i].addr.Hex()),
						zap.Error(err),
					)
					return nil
				}
				states[i] = state
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if end < len(existing) {
			if err := sleepCtx(ctx, d.cfg.DetailBatchPause); err != nil {
				return nil, err
			}
		}
	}

	out := make([]model.PoolState, 0, len(existing))
	for i, state := range states {
		if state == nil {
			continue
		}
		d.store(poolKey(existing[i].key.tokenA, existing[i].key.tokenB, existing[i].key.fee), state)
		out = append(out, *state)
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
