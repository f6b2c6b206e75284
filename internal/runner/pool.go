package runner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type Job func(ctx context.Context) error

// RunPool executes jobs with at most maxWorkers concurrently. The first
// failing job cancels the context handed to the others, and its error is
// returned once every started job has finished.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return job(ctx)
		})
	}
	return g.Wait()
}
