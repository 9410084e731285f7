package diff

import (
	"errors"
	"io"
	"os"

	yaml "gopkg.in/yaml.v2"

	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/util"
	"go.pixelhawk.org/hawk/hawk/go/geom"
)

// tileUpdateWindow is how far back per-project tile update timestamps are
// kept, in seconds.
const tileUpdateWindow = 24 * 60 * 60

// Metadata is the per-project YAML sidecar tracking which tiles drove recent
// changes. It lives next to the snapshot and is rewritten on every diff that
// observed a change.
type Metadata struct {
	// TileLastUpdate maps a tile, keyed as "x_y", to the last unix time a
	// change in that tile changed this project's pixels.
	TileLastUpdate map[string]int64 `yaml:"tile_last_update"`

	// TileUpdates24h holds the unix times of every change in the last 24
	// hours, oldest first.
	TileUpdates24h []int64 `yaml:"tile_updates_24h"`
}

// EnsureTiles makes the per-tile key set exactly the given tiles: missing
// keys are added as never-updated, keys outside the set are dropped.
func (m *Metadata) EnsureTiles(tiles []geom.Tile) {
	keys := make(map[string]int64, len(tiles))
	for _, t := range tiles {
		keys[t.String()] = m.TileLastUpdate[t.String()]
	}
	m.TileLastUpdate = keys
}

// RecordUpdate notes a change driven by the given tile at time now, and drops
// timestamps that have aged out of the window.
func (m *Metadata) RecordUpdate(tileKey string, now int64) {
	if m.TileLastUpdate == nil {
		m.TileLastUpdate = map[string]int64{}
	}
	m.TileLastUpdate[tileKey] = now
	m.TileUpdates24h = append(m.TileUpdates24h, now)
	m.Prune(now)
}

// Prune drops update timestamps older than the window.
func (m *Metadata) Prune(now int64) {
	cutoff := now - tileUpdateWindow
	i := 0
	for i < len(m.TileUpdates24h) && m.TileUpdates24h[i] < cutoff {
		i++
	}
	m.TileUpdates24h = m.TileUpdates24h[i:]
}

// readMetadata loads the sidecar at path. A missing file yields an empty
// Metadata.
func readMetadata(path string) (*Metadata, error) {
	md := &Metadata{}
	err := util.WithReadFile(path, func(f io.Reader) error {
		b, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(b, md)
	})
	if errors.Is(err, os.ErrNotExist) {
		return &Metadata{}, nil
	}
	if err != nil {
		return nil, skerr.Wrapf(err, "reading metadata %s", path)
	}
	return md, nil
}

// writeMetadata atomically rewrites the sidecar at path.
func writeMetadata(path string, md *Metadata) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		b, err := yaml.Marshal(md)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	})
}
