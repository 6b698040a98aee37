// Package orchestrator implements C7: the wall-clock-driven background
// loop that ticks the service engine, reaps dead managers, sweeps
// orphaned running records, and drains the internal job table (spec
// §4.7). Grounded on the teacher's daemon loop shape
// (internal/rpc/server_decision_sweeper.go): a time.Ticker racing a
// shutdown channel, each tick wrapped in its own bounded context so one
// slow pass can't starve the next.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MolSSI/QCFractal-sub003/internal/config"
	"github.com/MolSSI/QCFractal-sub003/internal/logging"
	"github.com/MolSSI/QCFractal-sub003/internal/service"
	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/telemetry"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the four C7 responsibilities against a store.
type Orchestrator struct {
	Store storage.Store

	// Config is read through cfg()/SetConfig rather than directly: a
	// live config.Watch reload (internal/config) replaces this pointer
	// from a different goroutine than the one ticking.
	Config   *config.Config
	configMu sync.RWMutex

	Engine *service.Engine
	Log    *logging.Logger

	// Telemetry is optional; when set, tick results are recorded as OTel
	// counters (spec's ambient observability stack, see DESIGN.md). A nil
	// Telemetry is a no-op, matching the teacher's own stdout-exporter-
	// or-nothing posture rather than requiring a collector to run at all.
	Telemetry *telemetry.Telemetry

	// ServiceBatchSize bounds how many services one tick drives.
	ServiceBatchSize int
	// MaxConcurrency bounds the per-tick fan-out width for service
	// iteration. The stale-record sweep runs sequentially.
	MaxConcurrency int

	handlers map[string]JobHandler
}

// New builds an Orchestrator with the teacher's usual defaulting
// convention: zero-value tunables fall back to sane constants rather
// than propagating a misconfiguration into a zero-width worker pool.
func New(store storage.Store, cfg *config.Config) *Orchestrator {
	if cfg == nil {
		cfg = config.Defaults()
	}
	o := &Orchestrator{
		Store:            store,
		Engine:           &service.Engine{Store: store},
		Config:           cfg,
		Log:              logging.Default(),
		ServiceBatchSize: 50,
		MaxConcurrency:   8,
	}
	o.RegisterDatasetSubmitHandler()
	return o
}

// cfg returns the current config, safe to call from the ticking
// goroutine while SetConfig runs from a config.Watch callback.
func (o *Orchestrator) cfg() *config.Config {
	o.configMu.RLock()
	defer o.configMu.RUnlock()
	if o.Config == nil {
		return config.Defaults()
	}
	return o.Config
}

// SetConfig installs a newly loaded config, taking effect on the next
// tick; the current tick's interval (read once in Run) doesn't change
// until Run is restarted, a known limitation of the ticker approach.
func (o *Orchestrator) SetConfig(cfg *config.Config) {
	o.configMu.Lock()
	o.Config = cfg
	o.configMu.Unlock()
}

// Run blocks, ticking every cfg.ServiceIterationInterval until done is
// closed. Each tick runs the service tick, heartbeat reaper, stale-record
// sweep, and a bounded batch of internal-job claims in sequence; a
// failure in one does not block the others within the same tick.
func (o *Orchestrator) Run(ctx context.Context, done <-chan struct{}) {
	interval := o.cfg().ServiceIterationInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if n, err := o.ServiceTick(tickCtx); err != nil {
		o.Log.Errorf("service tick: %v", err)
	} else if n > 0 {
		o.Log.Debugf("service tick drove %d service(s)", n)
	}

	if n, err := o.HeartbeatReap(tickCtx); err != nil {
		o.Log.Errorf("heartbeat reap: %v", err)
	} else if n > 0 {
		o.Log.Infof("heartbeat reaper deactivated %d manager(s)", n)
	}

	if n, err := o.StaleRecordSweep(tickCtx); err != nil {
		o.Log.Errorf("stale record sweep: %v", err)
	} else if n > 0 {
		o.Log.Infof("stale record sweep reset %d record(s)", n)
	}

	if o.cfg().AutoReset.Enabled {
		if n, err := o.AutoResetSweep(tickCtx); err != nil {
			o.Log.Errorf("auto-reset sweep: %v", err)
		} else if n > 0 {
			o.Log.Infof("auto-reset sweep reset %d record(s)", n)
		}
	}

	if n, err := o.RunDueJobs(tickCtx, "orchestrator"); err != nil {
		o.Log.Errorf("job runner: %v", err)
	} else if n > 0 {
		o.Log.Debugf("job runner claimed %d job(s)", n)
	}
}

// ServiceTick selects services due for a tick (spec §4.7: running or
// waiting, priority desc then modified asc) and drives each through
// Engine.Iterate, fanned out with a bounded worker count.
func (o *Orchestrator) ServiceTick(ctx context.Context) (int, error) {
	batch := o.ServiceBatchSize
	if batch <= 0 {
		batch = 50
	}
	ids, err := o.Store.ServicesDueForTick(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: list services due for tick: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := o.Engine.Iterate(gctx, id); err != nil {
				o.Log.Errorf("iterate service %d: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if o.Telemetry != nil {
		o.Telemetry.ServiceIterations.Add(ctx, int64(len(ids)))
	}
	return len(ids), nil
}

// HeartbeatReap deactivates every manager whose last heartbeat is older
// than cfg.HeartbeatTimeout, then resets any record those managers were
// running (spec §4.7: "C4.deactivate chains into C3.reset_assigned").
func (o *Orchestrator) HeartbeatReap(ctx context.Context) (int, error) {
	timeout := o.cfg().HeartbeatTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cutoff := time.Now().Add(-timeout)
	deactivated, err := o.Store.DeactivateManagers(ctx, nil, &cutoff)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: deactivate stale managers: %w", err)
	}
	if len(deactivated) == 0 {
		return 0, nil
	}
	if _, err := o.Store.ResetAssigned(ctx, deactivated); err != nil {
		return 0, fmt.Errorf("orchestrator: reset assigned after deactivation: %w", err)
	}
	if o.Telemetry != nil {
		o.Telemetry.ManagersReaped.Add(ctx, int64(len(deactivated)))
	}
	return len(deactivated), nil
}

// StaleRecordSweep finds records stuck in running whose attributed
// manager is no longer active (spec §4.7, marked optional there, but
// carried since nothing else closes this gap: a manager can disappear
// between heartbeats without ever reaching the reaper's timeout, e.g. a
// killed process that ActivateManager never re-registers).
func (o *Orchestrator) StaleRecordSweep(ctx context.Context) (int, error) {
	active := types.ManagerActive
	activeManagers, _, err := o.Store.QueryManagers(ctx, types.ManagerFilter{Status: &active, Limit: 100000})
	if err != nil {
		return 0, fmt.Errorf("orchestrator: list active managers: %w", err)
	}
	activeNames := make(map[string]bool, len(activeManagers))
	for _, m := range activeManagers {
		activeNames[m.Name] = true
	}

	running := types.StatusRunning
	var stale []string
	page := 0
	for {
		records, qp, err := o.Store.QueryRecords(ctx, types.RecordFilter{
			Status: []types.Status{running},
			Limit:  1000,
			Skip:   page * 1000,
		})
		if err != nil {
			return 0, fmt.Errorf("orchestrator: query running records: %w", err)
		}
		for _, r := range records {
			if r.ManagerName != "" && !activeNames[r.ManagerName] {
				stale = append(stale, r.ManagerName)
			}
		}
		if len(records) < 1000 || page*1000+len(records) >= qp.NFound {
			break
		}
		page++
	}
	if len(stale) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool, len(stale))
	names := stale[:0]
	for _, n := range stale {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	n, err := o.Store.ResetAssigned(ctx, names)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: reset assigned stale records: %w", err)
	}
	return n, nil
}

// AutoResetSweep resets errored records back to waiting, up to
// cfg.AutoReset.MaxAttempts retries per error_type (spec §6,
// auto_reset.<error_type>; see DESIGN.md's closed-enumeration decision).
// tick calls it only when cfg.AutoReset.Enabled; the method itself does
// not check that flag.
func (o *Orchestrator) AutoResetSweep(ctx context.Context) (int, error) {
	errored := types.StatusError
	var toReset []int64
	page := 0
	for {
		records, qp, err := o.Store.QueryRecords(ctx, types.RecordFilter{
			Status: []types.Status{errored},
			Limit:  1000,
			Skip:   page * 1000,
		})
		if err != nil {
			return 0, fmt.Errorf("orchestrator: query errored records: %w", err)
		}
		for _, r := range records {
			entry, err := o.Store.GetLatestResult(ctx, r.ID)
			if err != nil {
				continue
			}
			if entry.ErrorType == "" {
				continue
			}
			maxAttempts, ok := o.cfg().AutoReset.MaxAttempts[entry.ErrorType]
			if !ok || maxAttempts <= 0 {
				continue
			}
			count, err := o.Store.CountComputeHistory(ctx, r.ID, entry.ErrorType)
			if err != nil {
				continue
			}
			if count < maxAttempts {
				toReset = append(toReset, r.ID)
			}
		}
		if len(records) < 1000 || page*1000+len(records) >= qp.NFound {
			break
		}
		page++
	}
	if len(toReset) == 0 {
		return 0, nil
	}

	results, err := o.Store.Transition(ctx, storage.OpReset, toReset, false)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: reset errored records: %w", err)
	}
	n := 0
	for id, err := range results {
		if err != nil {
			o.Log.Debugf("auto-reset: record %d not reset: %v", id, err)
			continue
		}
		n++
	}
	if o.Telemetry != nil && n > 0 {
		o.Telemetry.RecordsAutoReset.Add(ctx, int64(n))
	}
	return n, nil
}

func (o *Orchestrator) concurrency() int {
	if o.MaxConcurrency <= 0 {
		return 8
	}
	return o.MaxConcurrency
}
