// Command checklink emulates the dynamic loader's dependency resolution
// across a whole filesystem, reporting unresolved shared-library
// dependencies grouped by owning package. Flag layout and the
// app.Run/os.Exit wiring follow the teacher's cmd/lci/main.go
// (urfave/cli/v2 App, a single Action, config loaded from a KDL file whose
// path is itself a flag); the orchestration order of its phases is
// grounded in spec.md §2's data-flow paragraph: the Package adapter's
// install-parse sub-phase runs before the File Collector (its
// package-by-file map drives attribution), the Collector runs once, the
// Resolver runs once, then (only if unresolved dependencies remain) the
// Package adapter's optional-dependency sub-phase mines archives and the
// Resolver runs a second time over what's left.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dimgel/checklink/internal/arena"
	"github.com/dimgel/checklink/internal/clog"
	"github.com/dimgel/checklink/internal/collector"
	"github.com/dimgel/checklink/internal/config"
	"github.com/dimgel/checklink/internal/elfinspect"
	"github.com/dimgel/checklink/internal/errs"
	"github.com/dimgel/checklink/internal/model"
	"github.com/dimgel/checklink/internal/pathstat"
	"github.com/dimgel/checklink/internal/pkgadapter"
	"github.com/dimgel/checklink/internal/pkgadapter/archdb"
	"github.com/dimgel/checklink/internal/platformdefaults"
	"github.com/dimgel/checklink/internal/procexec"
	"github.com/dimgel/checklink/internal/report"
	"github.com/dimgel/checklink/internal/resolver"
	"github.com/dimgel/checklink/internal/workerpool"
)

const defaultConfigPath = ".checklink.kdl"

// exitCoder lets the Action return a plain error (mapped to exit status 2)
// or explicitly request status 1 (unresolved dependencies remain), per
// spec.md §6.
type exitCoder struct {
	code int
	err  error
}

func (e *exitCoder) Error() string  { return e.err.Error() }
func (e *exitCoder) ExitCode() int  { return e.code }
func (e *exitCoder) Unwrap() error  { return e.err }

func main() {
	app := &cli.App{
		Name:                   "checklink",
		Usage:                  "verify dynamic-link consistency across the filesystem",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   defaultConfigPath,
			},
			&cli.BoolFlag{
				Name:  "no-network",
				Usage: "Resolve optional-dependency archive names without downloading them",
			},
			&cli.BoolFlag{
				Name:  "wide",
				Usage: "Render the report as a width-computed table instead of nested text",
			},
			&cli.BoolFlag{
				Name:  "colorize",
				Usage: "Colorize report output",
			},
			&cli.BoolFlag{
				Name:  "suggest",
				Usage: "Suggest a close soname match for each unresolved dependency",
			},
			&cli.IntFlag{
				Name:  "verbosity",
				Usage: "Verbosity: -3 quiet, -2 default, -1 warn+exec, 0 debug",
				Value: int(clog.Default),
			},
			&cli.StringFlag{
				Name:  "platform-defaults",
				Usage: "Path to an external platform-defaults TOML file, overriding the built-in Arch Linux defaults",
			},
			&cli.StringFlag{
				Name:  "pacman-local-db",
				Usage: "Path to pacman's local package database",
				Value: archdb.DefaultLocalDBPath,
			},
			&cli.StringFlag{
				Name:  "pacman-cache",
				Usage: "Path to pacman's package archive cache",
				Value: archdb.DefaultCachePath,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		ec, isExitCoder := err.(*exitCoder)
		if !isExitCoder {
			fmt.Fprintf(os.Stderr, "checklink: %v\n", err)
			os.Exit(2)
		}
		// Status 1 (unresolved dependencies) has already had its report
		// printed by renderReport; nothing further to say.
		if ec.code != 1 {
			fmt.Fprintf(os.Stderr, "checklink: %v\n", ec.err)
		}
		os.Exit(ec.code)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	cfg.MergeEnv(os.Getenv)
	if c.Bool("no-network") {
		cfg.NoNetwork = true
	}
	if c.Bool("wide") {
		cfg.Wide = true
	}
	if c.Bool("colorize") {
		cfg.Colorize = true
	}

	level := clog.Level(c.Int("verbosity"))
	palette := clog.Disabled
	if cfg.Colorize {
		palette = clog.Enabled
	}
	log := clog.New(os.Stdout, os.Stderr, level, palette)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("interrupted, shutting down")
		cancel()
	}()

	defaults, err := loadPlatformDefaults(c.String("platform-defaults"))
	if err != nil {
		return err
	}

	stat := pathstat.New()
	pool := arena.NewStringPool()
	workers := workerpool.New(0, 0)
	index := model.NewIndex()
	inspector := elfinspect.New(pool, log, stat)
	runner := procexec.New(log)

	coll := collector.New(pool, log, stat, inspector, workers, runner, index, cfg, defaults)
	src := archdb.NewSource(c.String("pacman-local-db"))
	archiveTool := archdb.NewArchiveTool(runner, log, c.String("pacman-cache"), cfg.Colorize)
	adapter := pkgadapter.New(src, archiveTool, index, log, workers, inspector)

	res, resolveErr := orchestrate(ctx, log, cfg, stat, workers, index, coll, adapter, defaults)
	if resolveErr != nil {
		return resolveErr
	}

	if res.Resolved {
		log.Info("all dynamic dependencies resolved")
		return nil
	}

	renderReport(res, cfg, c.Bool("suggest"), index)
	return &exitCoder{code: 1, err: fmt.Errorf("unresolved dynamic dependencies remain")}
}

// orchestrate runs the phases in spec.md §2's documented data-flow order.
func orchestrate(
	ctx context.Context,
	log *clog.Logger,
	cfg *config.Config,
	stat pathstat.Stater,
	workers *workerpool.Pool,
	index *model.Index,
	coll *collector.Collector,
	adapter *pkgadapter.Adapter,
	defaults platformdefaults.Defaults,
) (resolver.Result, error) {
	if err := adapter.ParseInstalled(ctx); err != nil {
		return resolver.Result{}, err
	}

	if err := coll.Execute(ctx); err != nil {
		return resolver.Result{}, err
	}

	extraRoots := append(append([]string{}, cfg.ExtraLibRoots...), cfg.ScanMoreLibs...)
	res := resolver.New(index, workers, log, stat, extraRoots, defaults.Libs)
	log.Debug("libraries known: %d, loader-cache entries: %d", index.LibraryCount(), index.LoaderCacheCount())

	pass1, err := res.Execute(ctx, coll.Files())
	if err != nil {
		return resolver.Result{}, err
	}
	if pass1.Resolved {
		return pass1, nil
	}

	pending := adapter.CalculateOptionalDeps()
	if len(pending) == 0 {
		return pass1, nil
	}
	log.Debug("optional dependencies pending: %d", len(pending))

	if err := adapter.DownloadOptionalDeps(ctx, cfg.NoNetwork); err != nil {
		return resolver.Result{}, err
	}
	if err := adapter.ProcessOptionalDeps(ctx); err != nil {
		return resolver.Result{}, err
	}

	pass2, err := res.Execute(ctx, pass1.Remaining)
	if err != nil {
		return resolver.Result{}, err
	}
	return pass2, nil
}

func renderReport(res resolver.Result, cfg *config.Config, suggest bool, index *model.Index) {
	format := report.Nested
	if cfg.Wide {
		format = report.Wide
	}
	opts := report.Options{
		Format:   format,
		Colorize: cfg.Colorize,
		Suggest:  suggest,
	}
	if suggest {
		opts.KnownNames = index.KnownLibraryNames()
	}

	fmt.Fprint(os.Stdout, report.Render(res.Remaining, opts))
}

func loadPlatformDefaults(path string) (platformdefaults.Defaults, error) {
	if path != "" {
		d, err := platformdefaults.Load(path)
		if err != nil {
			return platformdefaults.Defaults{}, errs.New(errs.ConfigurationError, "main.loadPlatformDefaults", err).WithPath(path)
		}
		return d, nil
	}
	d, err := platformdefaults.Arch()
	if err != nil {
		return platformdefaults.Defaults{}, errs.New(errs.ConfigurationError, "main.loadPlatformDefaults", err)
	}
	return d, nil
}
