package ops

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/worker"
)

// WorkerChanges is what a reloaded file asks of the running workers.
type WorkerChanges struct {
	Added []worker.Config
	// Tuned holds workers whose params changed. Only params are applied live.
	Tuned []worker.Config
}

func (c WorkerChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Tuned) == 0
}

// Diff compares the worker sets of two loaded configs. Workers missing from
// next are left alone; deletion stays an explicit operator action.
func Diff(prev, next Loaded) WorkerChanges {
	known := make(map[string]worker.Config, len(prev.Workers))
	for _, w := range prev.Workers {
		known[w.ID] = w
	}
	var changes WorkerChanges
	for _, w := range next.Workers {
		old, ok := known[w.ID]
		switch {
		case !ok:
			changes.Added = append(changes.Added, w)
		case !bytes.Equal(bytes.TrimSpace(old.Params), bytes.TrimSpace(w.Params)):
			changes.Tuned = append(changes.Tuned, w)
		}
	}
	return changes
}

// Watch polls the config file and calls update with every successfully
// reloaded version.
func Watch(ctx context.Context, path string, interval time.Duration, update func(Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Errorf("ops: config stat failed, err: %+v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := Load(path)
			if err != nil {
				logs.Errorf("ops: config reload failed, err: %+v", err)
				continue
			}
			lastMod = info.ModTime()
			logs.Infof("ops: config reloaded: %s", path)
			update(loaded)
		}
	}
}
