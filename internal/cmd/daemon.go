package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/inspect"
	"github.com/Iron-Ham/dysche/internal/state"
	"github.com/Iron-Ham/dysche/internal/supervisor"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Supervise running partitions",
	Long: `Run the supervisor in the foreground.

Every tick the daemon takes the state lock, re-attaches to persisted
instances and checks the heartbeat of each running partition, marking
silent ones lost and restarting them according to their restart policy.

It also serves creation requests written to the "create" file of the
inspection tree; the outcome is written to "create.result".`,
	RunE: runDaemon,
}

// daemonStopTimeout bounds how long shutdown waits for in-flight work.
const daemonStopTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(daemonCmd)
}

// daemon owns the supervisor and the request watcher. mu serializes the
// tick and request handling, which both hold the state lock.
type daemon struct {
	app     *app
	sup     *supervisor.Supervisor
	watcher *inspect.Watcher

	mu     sync.Mutex
	lock   *state.Lock
	cancel context.CancelFunc
	done   chan struct{}
}

func provideSupervisorConfig(a *app) supervisor.Config {
	return supervisor.Config{
		Interval: time.Duration(a.cfg.Supervisor.IntervalMS) * time.Millisecond,
		Parallel: a.cfg.Supervisor.Parallel,
	}
}

func newDaemon(a *app, cfg supervisor.Config) *daemon {
	d := &daemon{app: a}
	d.sup = supervisor.New(a.mgr, cfg,
		supervisor.WithLogger(a.logger),
		supervisor.WithTickHooks(d.beforeTick, d.afterTick),
	)
	return d
}

func (d *daemon) beforeTick(ctx context.Context) error {
	d.mu.Lock()
	lock, err := state.AcquireLockWait(ctx, d.app.stateDir, "daemon", lockPoll, d.app.logger)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.lock = lock
	_, skipped, err := d.app.mgr.Attach(ctx)
	for _, s := range skipped {
		d.app.logger.Report("skipped instance record", s)
	}
	if err != nil {
		d.afterTick()
		return err
	}
	return nil
}

func (d *daemon) afterTick() {
	if err := d.lock.Release(); err != nil {
		d.app.logger.Warn("failed to release state lock", "error", err)
	}
	d.lock = nil
	d.mu.Unlock()
}

// handleRequest creates and runs the instance described by request and
// publishes the result.
func (d *daemon) handleRequest(request string) {
	request = strings.TrimSpace(request)
	if request == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var name string
	err := d.app.locked(context.Background(), "daemon create", func(ctx context.Context) error {
		inst, err := d.app.mgr.CreateAndRun(ctx, request)
		if err != nil {
			return err
		}
		name = inst.Name()
		return nil
	})

	result := "ok " + name + "\n"
	if err != nil {
		d.app.logger.Warn("creation request failed", "request", request, "error", err)
		result = "error " + err.Error() + "\n"
	} else {
		d.app.logger.Info("creation request served", "name", name)
	}
	if werr := d.app.tree.WriteRoot(inspect.FileCreateResult, result); werr != nil {
		d.app.logger.Warn("failed to write creation result", "error", werr)
	}
}

func (d *daemon) Start(ctx context.Context) error {
	w, err := inspect.NewWatcher(d.app.tree.Root(),
		inspect.OnRequest(d.handleRequest),
		inspect.OnError(func(err error) {
			d.app.logger.Warn("inspection tree watch error", "error", err)
		}),
	)
	if err != nil {
		return errors.Wrapf(fmt.Errorf("%w: %w", errors.ErrIOFailure, err), "failed to watch %s", d.app.tree.Root())
	}
	d.watcher = w
	w.Start()

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		if err := d.sup.Run(runCtx); err != nil {
			d.app.logger.Error("supervisor exited", "error", err)
		}
	}()
	d.app.logger.Info("daemon started", "run_dir", d.app.tree.Root())
	return nil
}

func (d *daemon) Stop(ctx context.Context) error {
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.cancel != nil {
		d.cancel()
		select {
		case <-d.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.app.logger.Info("daemon stopped")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	fxApp := fx.New(
		fx.NopLogger,
		fx.Provide(newApp),
		fx.Provide(provideSupervisorConfig),
		fx.Provide(newDaemon),
		fx.Invoke(func(lc fx.Lifecycle, a *app) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					a.Close()
					return nil
				},
			})
		}),
		fx.Invoke(func(lc fx.Lifecycle, d *daemon) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return d.Start(ctx)
				},
				OnStop: func(ctx context.Context) error {
					return d.Stop(ctx)
				},
			})
		}),
	)
	if err := fxApp.Err(); err != nil {
		return err
	}

	if err := fxApp.Start(cmd.Context()); err != nil {
		return err
	}
	<-fxApp.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), daemonStopTimeout)
	defer cancel()
	return fxApp.Stop(stopCtx)
}
