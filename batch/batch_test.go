package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRunCollectsEveryResultInCompletionOrder(t *testing.T) {
	Convey("Given work items that finish out of index order", t, func() {
		ctx := context.Background()
		delays := []time.Duration{30 * time.Millisecond, 0, 10 * time.Millisecond}

		results := Run(ctx, len(delays), func(ctx context.Context, i int) (interface{}, error) {
			time.Sleep(delays[i])
			return i, nil
		})

		Convey("results are ordered by completion time, not by index", func() {
			So(len(results), ShouldEqual, 3)
			So(results[0].Value, ShouldEqual, 1)
			So(results[1].Value, ShouldEqual, 2)
			So(results[2].Value, ShouldEqual, 0)
		})
	})
}

func TestRunDoesNotCancelSiblingsOnFailure(t *testing.T) {
	Convey("Given one item that fails and others that succeed", t, func() {
		ctx := context.Background()
		var ran int32
		var mu sync.Mutex

		results := Run(ctx, 5, func(ctx context.Context, i int) (interface{}, error) {
			mu.Lock()
			ran++
			mu.Unlock()
			if i == 2 {
				return nil, errors.New("boom")
			}
			return i, nil
		})

		Convey("every item still runs, and only the failing one carries an error", func() {
			So(ran, ShouldEqual, 5)
			failures := 0
			for _, r := range results {
				if r.Err != nil {
					failures++
				}
			}
			So(failures, ShouldEqual, 1)
		})
	})
}
