// Package crystal wires the store, model, download pipeline, and scheduler
// into one Project, the way internal/app.BTApp wires bt-go's dependencies
// from config. cmd/crystalctl and integration tests open a Project rather
// than constructing each package by hand.
package crystal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"crystal/internal/config"
	"crystal/internal/download"
	"crystal/internal/model"
	"crystal/internal/parse"
	"crystal/internal/scheduler"
	"crystal/internal/store"
)

// Project owns one open .crystalproj directory's full stack: the
// database/revision store, the download pipeline, and the scheduler
// goroutine driving its task tree. The caller must call Close when done.
type Project struct {
	dir     string
	cfg     *config.Config
	store   *store.Store
	sched   *scheduler.Scheduler
	logger  Logger
	logFile *os.File

	cancel context.CancelFunc
}

// Options configures Open.
type Options struct {
	// Mode selects read/write vs read-only, forwarded to store.Open.
	Mode store.OpenMode
	// Create permits creating a brand-new project at dir.
	Create bool
	// Listener receives task-tree notifications; defaults to a no-op.
	Listener scheduler.TaskListener
}

// Open opens a project directory: it loads (or seeds) crystal.toml, opens
// the store (running repair and migration per the store's own open
// sequence), builds the download pipeline and scheduler, resumes any
// hibernated tasks, and starts the scheduler goroutine.
func Open(ctx context.Context, dir string, opts Options) (*Project, error) {
	cfgPath := filepath.Join(dir, "crystal.toml")
	cfg, err := config.ReadFromFile(cfgPath, dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading crystal.toml: %w", err)
		}
		cfg = config.Default(filepath.Join(dir, "log"))
		if opts.Create {
			if err := config.Init(cfgPath, cfg); err != nil {
				return nil, fmt.Errorf("initializing crystal.toml: %w", err)
			}
		}
	}

	logger, logFile, err := newLogger(cfg.LogDir, filepath.Base(dir))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	_, statErr := os.Stat(filepath.Join(dir, store.DatabaseFileName))
	isNewProject := opts.Create && statErr != nil

	st, err := store.Open(ctx, dir, store.OpenOptions{Mode: opts.Mode, Create: opts.Create})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening project store: %w", err)
	}

	if isNewProject && st.Writable() {
		if err := st.SetProperties(ctx, model.ProjectProperties{
			DefaultURLPrefix:  cfg.Defaults.DefaultURLPrefix,
			HTMLParserType:    model.HTMLParserType(cfg.Defaults.HTMLParserType),
			EntityTitleFormat: model.EntityTitleFormat(cfg.Defaults.EntityTitleFormat),
		}); err != nil {
			st.Close()
			logFile.Close()
			return nil, fmt.Errorf("seeding project defaults: %w", err)
		}
	}

	if st.Writable() && st.NeedsMigration() {
		if err := st.MigrateToLatest(ctx, nil); err != nil {
			st.Close()
			logFile.Close()
			return nil, fmt.Errorf("migrating project: %w", err)
		}
	}

	pipeline := download.New(st, parse.NewRegistry(),
		download.WithUserAgent(cfg.Download.UserAgent),
		download.WithMaxBodySize(cfg.Download.MaxBodySizeBytes),
		download.WithFirstByteTimeout(time.Duration(cfg.Download.FirstByteTimeoutMS)*time.Millisecond),
		download.WithStallTimeout(time.Duration(cfg.Download.StallTimeoutMS)*time.Millisecond),
		download.WithSessionFreshWindow(time.Duration(cfg.Download.SessionFreshWindowMinutes)*time.Minute),
		download.WithAssumeFreshThisSession(cfg.Download.AssumeFreshThisSession),
	)

	listener := opts.Listener
	if listener == nil {
		listener = scheduler.NopTaskListener{}
	}

	sched := scheduler.New(st, scheduler.Pipeline{
		Fetch:  pipeline.Fetch,
		Parse:  pipeline.Parse,
		Groups: pipeline.Groups,
	},
		scheduler.WithListener(listener),
		scheduler.WithWorkerConcurrency(cfg.Scheduler.WorkerCount),
		scheduler.WithPoliteness(
			time.Duration(cfg.Scheduler.PolitenessDelayMS)*time.Millisecond,
			float64(cfg.Scheduler.MaxAggregatePerSecond),
		),
	)

	if st.Writable() {
		if err := sched.Resume(ctx); err != nil {
			st.Close()
			logFile.Close()
			return nil, fmt.Errorf("resuming hibernated tasks: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go sched.Run(runCtx)

	logger.Info("project opened", "dir", dir, "major_version", st.MajorVersion(), "session_id", sched.SessionID())

	return &Project{
		dir:     dir,
		cfg:     cfg,
		store:   st,
		sched:   sched,
		logger:  logger,
		logFile: logFile,
		cancel:  cancel,
	}, nil
}

// Store returns the project's underlying store, for operations the
// Project façade doesn't expose directly (property reads, group/alias
// management, stats).
func (p *Project) Store() *store.Store { return p.store }

// Scheduler returns the project's scheduler, for submitting or cancelling
// download tasks.
func (p *Project) Scheduler() *scheduler.Scheduler { return p.sched }

// Logger returns the project's structured logger.
func (p *Project) Logger() Logger { return p.logger }

// Close finalizes in-flight work: it stops the scheduler goroutine
// (hibernating any still-running top-level task), checkpoints the
// database, and flushes the log file.
func (p *Project) Close(ctx context.Context) error {
	var firstErr error

	if err := p.sched.Close(ctx); err != nil {
		firstErr = fmt.Errorf("closing scheduler: %w", err)
	}
	p.cancel()

	if err := p.store.Close(); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("closing store: %w", err)
		}
	}

	p.logger.Info("project closed", "dir", p.dir)
	if p.logFile != nil {
		p.logFile.Close()
	}

	return firstErr
}
