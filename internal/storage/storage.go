package storage

import "dexcore/internal/model"

// PoolSink is a sink for discovered-pool snapshots.
type PoolSink interface {
	PutPoolBatch(pools []model.PoolRecord) error
}
