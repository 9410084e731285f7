// Package scheduler decides which tile to poll next. Tiles sit in one of
// three kinds of queue, keyed by heat: the burning queue (999) holds tiles
// that have never been observed to change, temperature queues 1..N hold tiles
// ordered by how recently their content changed, and heat 0 is out of
// scheduling entirely.
//
// Selection round-robins over all queues, burning first, taking at most one
// tile from each per pass so a long burning backlog cannot starve the
// temperature queues. When a pass is exhausted the tiles are redistributed:
// every checked tile is ranked by last change time and dealt into freshly
// sized queues, hottest queues smallest.
package scheduler

import (
	"context"

	"go.pixelhawk.org/hawk/go/metrics2"
	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/sklog"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

// QueueSystem selects tiles to poll. It is not safe for concurrent use; the
// monitor drives it from a single goroutine.
type QueueSystem struct {
	store          *store.Store
	minHottestSize int

	// numQueues is the current temperature queue count, recomputed on every
	// redistribute.
	numQueues int

	// burningServed is true once the burning queue has had its turn in the
	// current pass.
	burningServed bool

	// cursor is the index of the next temperature queue to serve in the
	// current pass; queue index i carries heat i+1, so the pass walks
	// coldest to hottest.
	cursor int

	numQueuesMetric metrics2.Int64Metric
	redistributions metrics2.Counter
}

// New returns a QueueSystem over the given store. The temperature queue count
// is recovered from the database so restarts resume mid-pass.
func New(ctx context.Context, st *store.Store, minHottestSize int) (*QueueSystem, error) {
	numQueues, err := st.NumTemperatureQueues(ctx)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &QueueSystem{
		store:           st,
		minHottestSize:  minHottestSize,
		numQueues:       numQueues,
		numQueuesMetric: metrics2.GetInt64Metric("scheduler_num_queues"),
		redistributions: metrics2.GetCounter("scheduler_redistributions"),
	}, nil
}

// NumQueues returns the current temperature queue count.
func (q *QueueSystem) NumQueues() int {
	return q.numQueues
}

// SelectNextTile returns the next tile to poll, or nil if no tile is
// schedulable at all. Each queue, the burning queue included, yields at most
// one tile per pass. An exhausted pass triggers a redistribute and a fresh
// pass.
func (q *QueueSystem) SelectNextTile(ctx context.Context) (*store.Tile, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if !q.burningServed {
			q.burningServed = true
			t, err := q.store.NextUncheckedBurning(ctx)
			if err != nil {
				return nil, skerr.Wrap(err)
			}
			if t != nil {
				return t, nil
			}
		}
		for q.cursor < q.numQueues {
			heat := q.cursor + 1
			q.cursor++
			t, err := q.store.NextTileInHeat(ctx, heat)
			if err != nil {
				return nil, skerr.Wrap(err)
			}
			if t != nil {
				return t, nil
			}
		}
		if err := q.Redistribute(ctx); err != nil {
			return nil, skerr.Wrap(err)
		}
	}
	return nil, nil
}

// Redistribute re-ranks every eligible tile by last change time and deals
// them into newly sized temperature queues, most recently changed tiles into
// the hottest. Checked burning tiles graduate here; unchecked burning tiles
// and inactive tiles are untouched. Only rows whose heat actually changes are
// written, so a redistribute that moves nothing writes nothing.
func (q *QueueSystem) Redistribute(ctx context.Context) error {
	tiles, err := q.store.TilesForRedistribution(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	sizes := QueueSizes(len(tiles), q.minHottestSize)
	n := len(sizes)
	heats := map[int64]int{}
	idx := 0
	for i, size := range sizes {
		heat := n - i
		for j := 0; j < size; j++ {
			if t := tiles[idx]; t.Heat != heat {
				heats[t.ID] = heat
			}
			idx++
		}
	}
	if err := q.store.SetHeats(ctx, heats); err != nil {
		return skerr.Wrap(err)
	}
	q.numQueues = n
	q.cursor = 0
	q.burningServed = false
	q.redistributions.Inc(1)
	q.numQueuesMetric.Update(int64(n))
	if len(heats) > 0 {
		sklog.Infof("Redistributed %d tiles into %d queues, %d heat changes", len(tiles), n, len(heats))
	}
	return nil
}
