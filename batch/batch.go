/*
	Package batch runs many independent ref operations concurrently and
	collects their results in completion order, without letting one
	failure cancel its siblings (spec §5 "Ref push results are emitted
	... in the order pushes complete"; §7 "other pushes in the same
	batch proceed").

	Grounded on `stitch/treePack.go`'s `PackMulti`: a `sync.WaitGroup`
	fan-out over a slice of specs. Deviates from it in exactly the way
	spec §7 requires -- `PackMulti` is first-error-wins (one failure
	voids the whole batch); batch.Run is first-error-agnostic per item,
	since a push batch must let every other ref land.
*/
package batch

import (
	"context"
	"sort"
	"sync"
)

// Result is one item's outcome: either Value is meaningful and Err is
// nil, or Err names why that item failed and Value is the zero value.
type Result struct {
	Index int
	Err   error
	Value interface{}
}

// Run calls work(ctx, i) for every i in [0, n) concurrently and returns
// their results ordered by completion time, not by index (spec §5). An
// error from one call never cancels or skips another. A panic in a call
// is not recovered.
func Run(ctx context.Context, n int, work func(ctx context.Context, i int) (interface{}, error)) []Result {
	type timestamped struct {
		Result
		seq int64
	}
	results := make([]timestamped, n)
	var seq int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := work(ctx, i)
			mu.Lock()
			seq++
			results[i] = timestamped{Result{Index: i, Err: err, Value: v}, seq}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.SliceStable(results, func(a, b int) bool { return results[a].seq < results[b].seq })
	out := make([]Result, n)
	for i, r := range results {
		out[i] = r.Result
	}
	return out
}
