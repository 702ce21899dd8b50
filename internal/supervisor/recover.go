package supervisor

import (
	"context"
	"sort"

	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/internal/notify"
	"github.com/yanun0323/go-autotrader/internal/state"
	"github.com/yanun0323/go-autotrader/internal/worker"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// Report lists what a recovery pass restored and what it skipped.
type Report struct {
	Restored []string
	Corrupt  map[string]error
}

// Recover rebuilds every checkpointed worker. Unreadable checkpoints are
// reported and skipped; a store failure aborts the pass. Pools must be
// loaded into the allocator before calling it.
func (s *Supervisor) Recover(ctx context.Context) (Report, error) {
	result, err := state.Recover(ctx, s.env.Store, state.WorkerPrefix)
	if err != nil {
		return Report{}, err
	}
	report := Report{Corrupt: make(map[string]error)}
	for key, cause := range result.Failed {
		report.Corrupt[key] = cause
	}

	for _, rec := range result.Records {
		if err := s.restore(ctx, rec); err != nil {
			if errors.Is(err, exception.ErrWorkerExists) {
				continue
			}
			if errors.Classify(err) == errors.KindFatalProcess {
				return report, err
			}
			report.Corrupt[rec.Key] = err
			continue
		}
		cfg, _, _ := worker.DecodeHead(rec)
		report.Restored = append(report.Restored, cfg.ID)
	}

	sort.Strings(report.Restored)
	for key, cause := range report.Corrupt {
		logs.Errorf("supervisor: skip checkpoint %s, err: %+v", key, cause)
		s.env.Notifier.Notify(notify.EventCheckpointCorrupt, notify.Payload{"key": key, "error": cause.Error()})
	}
	logs.Infof("supervisor: recovered %d workers, %d corrupt", len(report.Restored), len(report.Corrupt))
	return report, nil
}

func (s *Supervisor) restore(ctx context.Context, rec state.Record) error {
	cfg, _, err := worker.DecodeHead(rec)
	if err != nil {
		return err
	}
	build, ok := s.builders[cfg.Kind]
	if !ok {
		return errors.Wrapf(exception.ErrUnknownKind, "worker %s kind %q", cfg.ID, cfg.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[cfg.ID]; exists {
		return errors.Wrapf(exception.ErrWorkerExists, "worker %s", cfg.ID)
	}
	r, err := build(cfg, s.env)
	if err != nil {
		return err
	}
	if err := r.Restore(ctx, rec, s.cfg.Now()); err != nil {
		return err
	}
	s.register(r)
	return nil
}
