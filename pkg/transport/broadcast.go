package transport

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/mensylisir/remotexec/pkg/logger"
	"github.com/mensylisir/remotexec/pkg/remotecmd"
)

const DefaultConcurrency = 10

// DeliveryResult is the outcome of one connection in a Broadcast.
type DeliveryResult struct {
	Connection string
	Err        error
	Duration   time.Duration
}

// Broadcast sends cmd over every connection, at most concurrency at a time.
// Every connection is attempted; the failures are aggregated. Results keep
// the order of conns.
func Broadcast(ctx context.Context, conns []ManagedConnection, cmd remotecmd.Command, request bool, concurrency int, log *logger.Logger) ([]DeliveryResult, error) {
	if log == nil {
		log = logger.Get()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	log.Debugf("Broadcasting to %d connections with concurrency %d", len(conns), concurrency)

	results := make([]DeliveryResult, len(conns))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, conn := range conns {
		g.Go(func() error {
			start := time.Now()
			var err error
			if request {
				err = conn.SendRequest(ctx, cmd)
			} else {
				err = conn.SendResponse(ctx, cmd)
			}
			results[i] = DeliveryResult{Connection: conn.Name(), Err: err, Duration: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	var err error
	for _, r := range results {
		err = multierr.Append(err, r.Err)
	}
	if err != nil {
		log.Errorf("Broadcast finished with %d failed connection(s): %v", len(multierr.Errors(err)), err)
	} else {
		log.Successf("Broadcast delivered to all %d connections.", len(conns))
	}
	return results, err
}
