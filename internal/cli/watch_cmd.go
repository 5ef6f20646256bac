package cli

import (
	"context"
	"time"

	"astromorph/internal/fsutil"
	"astromorph/internal/pipeline"
	"astromorph/internal/watch"
)

// cmdWatch queues the lists already in dirs, then every line added to a
// list, until ctx is done.
func (r *Root) cmdWatch(ctx context.Context, p *pipeline.Pipeline, dirs []string, settle time.Duration) error {
	q := pipeline.NewQueue(ctx, p, r.cfg.Processing.QueueDepth, r.log, r.store, r.metrics)
	defer q.Stop()
	results, unsubscribe := q.Subscribe()
	defer unsubscribe()

	tracker := watch.NewTracker()
	submit := func(path string) {
		list, err := tracker.Fresh(path)
		if err != nil {
			r.log.Warn("list skipped", "path", path, "error", err)
			return
		}
		for _, e := range list {
			id, err := q.Submit(jobFor(e, path))
			if err != nil {
				r.log.Warn("target not queued", "path", path, "line", e.Line, "target", e.Target.String(), "error", err)
				continue
			}
			r.log.Info("target queued", "id", id, "target", e.Target.String(), "source", path)
		}
	}

	w, err := watch.New(dirs, settle, r.log)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	for _, d := range dirs {
		files, err := fsutil.ListTargetFiles(d)
		if err != nil {
			return err
		}
		for _, f := range files {
			submit(f)
		}
	}

	r.log.Info("watching target lists", "dirs", dirs, "settle", settle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch ev.Operation {
			case "deleted", "renamed":
				tracker.Forget(ev.Path)
			default:
				submit(ev.Path)
			}
		case res, ok := <-results:
			if !ok {
				return nil
			}
			r.report(res)
			r.writeMetrics()
		}
	}
}
