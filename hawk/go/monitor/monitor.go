// Package monitor ties the pieces together: it keeps the project registry in
// sync with the projects directory, polls tiles as the scheduler dictates,
// and fans observed changes out to the diff engine.
package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	fsnotify "gopkg.in/fsnotify.v1"

	"go.pixelhawk.org/hawk/go/metrics2"
	"go.pixelhawk.org/hawk/go/now"
	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/sklog"
	"go.pixelhawk.org/hawk/go/util"
	"go.pixelhawk.org/hawk/hawk/go/config"
	"go.pixelhawk.org/hawk/hawk/go/diff"
	"go.pixelhawk.org/hawk/hawk/go/geom"
	"go.pixelhawk.org/hawk/hawk/go/ingest"
	"go.pixelhawk.org/hawk/hawk/go/scheduler"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

// Monitor is the long-running service loop.
type Monitor struct {
	cfg      *config.Config
	store    *store.Store
	ingester *ingest.Ingester
	queues   *scheduler.QueueSystem
	differ   *diff.Differ

	projectLocks keyedLocks

	watcher *fsnotify.Watcher
	// kick wakes the sync loop early after a filesystem event.
	kick chan struct{}

	pollLiveness *metrics2.Liveness
	syncLiveness *metrics2.Liveness
}

// New assembles a Monitor from its parts.
func New(ctx context.Context, cfg *config.Config, st *store.Store) (*Monitor, error) {
	qs, err := scheduler.New(ctx, st, cfg.MinHottestQueueSize)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	m := &Monitor{
		cfg:          cfg,
		store:        st,
		ingester:     ingest.New(cfg),
		queues:       qs,
		differ:       diff.New(cfg, st),
		watcher:      watcher,
		kick:         make(chan struct{}, 1),
		pollLiveness: metrics2.NewLiveness("monitor_poll"),
		syncLiveness: metrics2.NewLiveness("monitor_sync"),
	}
	m.watchDir(cfg.ProjectsDir)
	return m, nil
}

// watchDir registers a directory with the filesystem watcher. Re-adding a
// watched directory is harmless, so sync calls this for every owner
// directory it visits.
func (m *Monitor) watchDir(dir string) {
	if err := m.watcher.Add(dir); err != nil {
		sklog.Warningf("Failed to watch %s: %s", dir, err)
	}
}

// Run drives the sync and poll loops until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		m.syncLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		m.watchLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		m.pollLoop(ctx)
		return nil
	})
	err := eg.Wait()
	util.Close(m.watcher)
	return skerr.Wrap(err)
}

// syncLoop rescans the projects directory on a timer and whenever the
// watcher kicks it.
func (m *Monitor) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SyncInterval())
	defer ticker.Stop()
	for {
		if err := m.SyncProjects(ctx); err != nil {
			sklog.Errorf("Project sync: %s", err)
		}
		m.syncLiveness.Reset()
		select {
		case <-ticker.C:
		case <-m.kick:
		case <-ctx.Done():
			return
		}
	}
}

// watchLoop turns filesystem events under the projects directory into sync
// kicks.
func (m *Monitor) watchLoop(ctx context.Context) {
	for {
		select {
		case ev := <-m.watcher.Events:
			sklog.Debugf("Projects directory event: %s", ev)
			select {
			case m.kick <- struct{}{}:
			default:
			}
		case err := <-m.watcher.Errors:
			sklog.Warningf("Projects directory watch: %s", err)
		case <-ctx.Done():
			return
		}
	}
}

// pollLoop repeatedly polls the next scheduled tile, pausing between picks.
func (m *Monitor) pollLoop(ctx context.Context) {
	for {
		if err := m.PollOneTile(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			sklog.Errorf("Polling: %s", err)
		}
		m.pollLiveness.Reset()
		select {
		case <-time.After(m.cfg.PollInterval()):
		case <-ctx.Done():
			return
		}
	}
}

// PollOneTile asks the scheduler for a tile, fetches it, records the check,
// and runs a diff for every overlapping project if the content changed.
func (m *Monitor) PollOneTile(ctx context.Context) error {
	t, err := m.queues.SelectNextTile(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	if t == nil {
		return nil
	}
	coord := t.Coord()
	res, etag, err := m.ingester.FetchTile(ctx, coord)
	if err != nil {
		return skerr.Wrap(err)
	}
	// An unavailable tile leaves last_checked and last_update alone; the
	// scheduler just moves on.
	if res == ingest.Unavailable {
		return nil
	}
	if etag == "" {
		etag = t.ETag
	}
	ts := now.Now(ctx).Unix()
	lastUpdate := t.LastUpdate
	if res == ingest.Changed {
		lastUpdate = ts
	}
	if err := m.store.MarkChecked(ctx, coord, ts, lastUpdate, etag); err != nil {
		return skerr.Wrap(err)
	}
	if res != ingest.Changed {
		return nil
	}
	sklog.Infof("Tile %s changed", coord)

	projects, err := m.store.ProjectsOverlapping(ctx, coord)
	if err != nil {
		return skerr.Wrap(err)
	}
	for _, p := range projects {
		if err := m.diffProject(ctx, p, coord); err != nil {
			sklog.Errorf("Diffing project %d/%s: %s", p.Owner, p.Name, err)
		}
	}
	return nil
}

func (m *Monitor) diffProject(ctx context.Context, p *store.Project, trigger geom.Tile) error {
	unlock := m.projectLocks.Lock(p.ID)
	defer unlock()
	return skerr.Wrap(m.differ.RunDiff(ctx, p, m.targetPath(p), &trigger))
}

// targetPath returns the target image location for a project. Owner 0
// projects may live at the top of the projects directory.
func (m *Monitor) targetPath(p *store.Project) string {
	nested := filepath.Join(m.cfg.ProjectsDir, strconv.FormatInt(p.Owner, 10), p.Name)
	if p.Owner == 0 {
		if _, err := os.Stat(nested); err != nil {
			return filepath.Join(m.cfg.ProjectsDir, p.Name)
		}
	}
	return nested
}

// keyedLocks hands out one mutex per project id, so diffs for the same
// project serialize while different projects proceed in parallel.
type keyedLocks struct {
	mtx   sync.Mutex
	locks map[int64]*sync.Mutex
}

// Lock locks the mutex for the given key and returns the unlock function.
func (k *keyedLocks) Lock(key int64) func() {
	k.mtx.Lock()
	if k.locks == nil {
		k.locks = map[int64]*sync.Mutex{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mtx.Unlock()
	l.Lock()
	return l.Unlock
}
