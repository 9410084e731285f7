// hawk-monitor polls canvas tiles, tracks each project's target image, and
// records progress history as the canvas changes.
package main

import (
	"flag"
	"time"

	"go.pixelhawk.org/hawk/go/cleanup"
	"go.pixelhawk.org/hawk/go/common"
	"go.pixelhawk.org/hawk/go/sklog"
	"go.pixelhawk.org/hawk/go/util"
	"go.pixelhawk.org/hawk/hawk/go/config"
	"go.pixelhawk.org/hawk/hawk/go/monitor"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

var (
	configFile = flag.String("config", "", "Path to the YAML config file. A missing file runs on defaults.")
	promPort   = flag.String("prom_port", ":20000", "Metrics service address (e.g., ':20000')")
	pollEvery  = flag.Duration("poll_every", 0, "Override the configured pause between tile polls. Whole seconds.")
	syncEvery  = flag.Duration("sync_every", 0, "Override the configured pause between project rescans. Whole seconds.")
)

func main() {
	common.InitWithMust(
		"hawk-monitor",
		common.PrometheusOpt(promPort),
	)
	ctx := cleanup.Context()

	cfg, err := config.Load(*configFile)
	if err != nil {
		sklog.Fatal(err)
	}
	if *pollEvery > 0 {
		cfg.PollIntervalSec = int(*pollEvery / time.Second)
	}
	if *syncEvery > 0 {
		cfg.SyncIntervalSec = int(*syncEvery / time.Second)
	}
	if err := cfg.EnsureDirs(); err != nil {
		sklog.Fatal(err)
	}
	st, err := store.New(cfg.Database)
	if err != nil {
		sklog.Fatal(err)
	}
	cleanup.AtExit(func() {
		util.Close(st)
	})

	m, err := monitor.New(ctx, cfg, st)
	if err != nil {
		sklog.Fatal(err)
	}
	if err := m.Run(ctx); err != nil {
		sklog.Fatal(err)
	}
}
