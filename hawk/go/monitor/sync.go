package monitor

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"go.pixelhawk.org/hawk/go/now"
	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/sklog"
	"go.pixelhawk.org/hawk/hawk/go/geom"
	"go.pixelhawk.org/hawk/hawk/go/palette"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

// anchorRe extracts the four trailing coordinates from a project filename:
// tile x, tile y, pixel x, pixel y, separated by space, dash, or underscore.
var anchorRe = regexp.MustCompile(`[- _](\d+)[- _](\d+)[- _](\d+)[- _](\d+)\.png$`)

// parseAnchor returns the canvas point encoded in a project filename.
func parseAnchor(name string) (geom.Point, error) {
	m := anchorRe.FindStringSubmatch(name)
	if m == nil {
		return geom.Point{}, skerr.Fmt("filename %q does not end in tile and pixel coordinates", name)
	}
	coords := make([]int, 4)
	for i, s := range m[1:] {
		n, err := strconv.Atoi(s)
		if err != nil {
			return geom.Point{}, skerr.Wrap(err)
		}
		coords[i] = n
	}
	return geom.PointFrom4(coords[0], coords[1], coords[2], coords[3])
}

// SyncProjects reconciles the database with the projects directory: new or
// modified target images are registered and diffed, unusable files are moved
// to the rejected directory, and projects whose files are gone are
// deactivated. Per-file failures are collected so one bad file cannot block
// the rest of the scan.
func (m *Monitor) SyncProjects(ctx context.Context) error {
	var errs *multierror.Error
	seen := map[string]bool{}

	owners, err := os.ReadDir(m.cfg.ProjectsDir)
	if err != nil {
		return skerr.Wrapf(err, "scanning %s", m.cfg.ProjectsDir)
	}
	for _, ownerEnt := range owners {
		if !ownerEnt.IsDir() {
			// Top-level target images belong to owner 0.
			if !strings.HasSuffix(ownerEnt.Name(), ".png") ||
				strings.HasSuffix(ownerEnt.Name(), ".invalid.png") {
				continue
			}
			seen[projectKey(0, ownerEnt.Name())] = true
			if err := m.syncProjectFile(ctx, 0, m.cfg.ProjectsDir, ownerEnt); err != nil {
				errs = multierror.Append(errs, err)
			}
			continue
		}
		owner, err := strconv.ParseInt(ownerEnt.Name(), 10, 64)
		if err != nil {
			sklog.Warningf("Ignoring non-numeric owner directory %s", ownerEnt.Name())
			continue
		}
		ownerDir := filepath.Join(m.cfg.ProjectsDir, ownerEnt.Name())
		m.watchDir(ownerDir)
		files, err := os.ReadDir(ownerDir)
		if err != nil {
			errs = multierror.Append(errs, skerr.Wrap(err))
			continue
		}
		for _, ent := range files {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".png") ||
				strings.HasSuffix(ent.Name(), ".invalid.png") {
				continue
			}
			seen[projectKey(owner, ent.Name())] = true
			if err := m.syncProjectFile(ctx, owner, ownerDir, ent); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	// Anything active in the database but gone from disk is retired.
	active, err := m.store.ActiveProjects(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	for _, p := range active {
		if seen[projectKey(p.Owner, p.Name)] {
			continue
		}
		sklog.Infof("Project %d/%s removed from disk, deactivating", p.Owner, p.Name)
		if err := m.store.DeactivateProject(ctx, p.Owner, p.Name); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		m.differ.RemoveArtifacts(p)
	}
	return errs.ErrorOrNil()
}

func projectKey(owner int64, name string) string {
	return strconv.FormatInt(owner, 10) + "/" + name
}

// syncProjectFile registers a single target image if it is new or was
// modified since registration, rejecting it if it cannot be used.
func (m *Monitor) syncProjectFile(ctx context.Context, owner int64, ownerDir string, ent os.DirEntry) error {
	path := filepath.Join(ownerDir, ent.Name())
	info, err := ent.Info()
	if err != nil {
		return skerr.Wrap(err)
	}
	existing, err := m.store.GetProject(ctx, owner, ent.Name())
	if err != nil {
		return skerr.Wrap(err)
	}
	if existing != nil && existing.State == store.ProjectActive && info.ModTime().Unix() <= existing.FirstSeen {
		return nil
	}

	anchor, err := parseAnchor(ent.Name())
	if err != nil {
		return m.reject(owner, path, err)
	}
	img, err := palette.OpenFile(path)
	if err != nil {
		return m.reject(owner, path, err)
	}
	rect := geom.RectFromPointSize(anchor, geom.Size{W: img.Rect.Dx(), H: img.Rect.Dy()})
	if !rect.InBounds() {
		return m.reject(owner, path, skerr.Fmt("rectangle %s extends past the canvas", rect))
	}

	p := &store.Project{
		Owner:     owner,
		Name:      ent.Name(),
		X:         rect.Left,
		Y:         rect.Top,
		Width:     rect.Size().W,
		Height:    rect.Size().H,
		FirstSeen: now.Now(ctx).Unix(),
	}
	if err := m.store.AddProject(ctx, p); err != nil {
		return skerr.Wrap(err)
	}
	// A re-registered project starts its history over.
	m.differ.RemoveArtifacts(p)
	sklog.Infof("Registered project %d/%s at %s (%dx%d px, %d tiles)",
		owner, p.Name, anchor, p.Width, p.Height, len(rect.Tiles()))

	unlock := m.projectLocks.Lock(p.ID)
	defer unlock()
	return skerr.Wrap(m.differ.RunDiff(ctx, p, path, nil))
}

// reject moves an unusable project file into the rejected directory so it is
// not reconsidered on every scan. If the move fails the file is renamed in
// place with an .invalid.png suffix instead.
func (m *Monitor) reject(owner int64, path string, cause error) error {
	sklog.Warningf("Rejecting project file %s: %s", path, cause)
	dest := filepath.Join(m.cfg.RejectedDir,
		strconv.FormatInt(owner, 10)+"-"+filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		if err := os.Rename(path, path+".invalid.png"); err != nil {
			return skerr.Wrapf(err, "quarantining %s", path)
		}
	}
	return nil
}
