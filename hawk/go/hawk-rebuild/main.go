// hawk-rebuild reconstructs the database from the on-disk state: project
// target images, the tile cache, and any surviving snapshots. Useful after
// losing or corrupting the database file.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"go.pixelhawk.org/hawk/go/sklog"
	"go.pixelhawk.org/hawk/go/util"
	"go.pixelhawk.org/hawk/hawk/go/config"
	"go.pixelhawk.org/hawk/hawk/go/monitor"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

func main() {
	app := &cli.App{
		Name:  "hawk-rebuild",
		Usage: "rebuild the monitor database from the projects directory and tile cache",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the YAML config file",
			},
			&cli.BoolFlag{
				Name:  "wipe",
				Usage: "delete the existing database file before rebuilding",
			},
		},
		Action: rebuild,
	}
	if err := app.Run(os.Args); err != nil {
		sklog.Fatal(err)
	}
}

func rebuild(c *cli.Context) error {
	ctx := c.Context
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	if c.Bool("wipe") {
		if err := os.Remove(cfg.Database); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	st, err := store.New(cfg.Database)
	if err != nil {
		return err
	}
	defer util.Close(st)

	m, err := monitor.New(ctx, cfg, st)
	if err != nil {
		return err
	}
	if err := m.Rebuild(ctx); err != nil {
		return err
	}

	active, err := st.ActiveProjects(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt %s with %d active projects:\n", cfg.Database, len(active))
	for _, p := range active {
		fmt.Printf("  %d/%s: %dx%d at (%d, %d), %.1f%% best completion\n",
			p.Owner, p.Name, p.Width, p.Height, p.X, p.Y, p.MaxCompletionPercent)
	}
	return nil
}
