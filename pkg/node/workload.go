package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// WorkloadResult counts the outcome of RunWorkload.
type WorkloadResult struct {
	Succeeded int64
	Failed    int64
}

// RunWorkload issues writes through the replicated store from workers
// goroutines until total writes have been attempted or ctx ends. Keys are
// "key<i>" with value "value<i>".
func (n *Node) RunWorkload(ctx context.Context, total, workers int) WorkloadResult {
	if workers < 1 {
		workers = 1
	}

	var (
		next   atomic.Int64
		ok     atomic.Int64
		failed atomic.Int64
		wg     sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := next.Add(1) - 1
				if i >= int64(total) || ctx.Err() != nil {
					return
				}
				key := fmt.Sprintf("key%d", i)
				if _, err := n.store.Put(ctx, key, []byte(fmt.Sprintf("value%d", i))); err != nil {
					failed.Add(1)
					continue
				}
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	res := WorkloadResult{Succeeded: ok.Load(), Failed: failed.Load()}
	n.logger.Info("workload finished",
		zap.Int("writes", total),
		zap.Int("workers", workers),
		zap.Int64("succeeded", res.Succeeded),
		zap.Int64("failed", res.Failed),
	)
	return res
}
