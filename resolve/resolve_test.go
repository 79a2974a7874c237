package resolve

import (
	"context"
	"io/ioutil"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/cache"
)

func TestPushResolverCoalesces(t *testing.T) {
	Convey("Given N concurrent resolves of the same OID", t, func(c C) {
		const n = 20
		var calls int32
		// The push holds until every caller has started, so the calls
		// overlap in time instead of running one after another.
		var started sync.WaitGroup
		started.Add(n)
		r := NewPushResolver(func(ctx context.Context, oid igis.OID) (igis.CID, error) {
			atomic.AddInt32(&calls, 1)
			started.Wait()
			time.Sleep(20 * time.Millisecond)
			return igis.CID("cid-for-" + string(oid)), nil
		})

		var wg sync.WaitGroup
		results := make([]igis.CID, n)
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				started.Done()
				cid, err := r.Resolve(context.Background(), igis.OID("merge-base"))
				c.So(err, ShouldBeNil)
				results[i] = cid
			}(i)
		}
		wg.Wait()

		Convey("the underlying push runs at most once", func() {
			So(atomic.LoadInt32(&calls), ShouldEqual, 1)
		})
		Convey("every waiter sees the same CID", func() {
			for _, cid := range results {
				So(cid, ShouldEqual, igis.CID("cid-for-merge-base"))
			}
		})
	})
}

func TestFetchResolverConsultsCache(t *testing.T) {
	Convey("Given a populated cache", t, func() {
		dir, err := ioutil.TempDir("", "igis-resolve-")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		store, err := cache.Open(dir)
		So(err, ShouldBeNil)
		defer store.Close()

		ctx := context.Background()
		So(store.Put(ctx, cache.CIDKey("cid1"), []byte("oid1")), ShouldBeNil)

		var calls int32
		// On a miss the fetch holds until every caller has started, so
		// the calls overlap in time instead of running one after another.
		var started sync.WaitGroup
		r := NewFetchResolver(store, func(ctx context.Context, cid igis.CID) (igis.OID, error) {
			atomic.AddInt32(&calls, 1)
			started.Wait()
			time.Sleep(20 * time.Millisecond)
			return igis.OID("oid-from-fetch"), nil
		})

		Convey("a cache hit never invokes fetch", func() {
			oid, err := r.Resolve(ctx, "cid1")
			So(err, ShouldBeNil)
			So(oid, ShouldEqual, igis.OID("oid1"))
			So(atomic.LoadInt32(&calls), ShouldEqual, 0)
		})

		Convey("a cache miss invokes fetch exactly once across concurrent callers", func(c C) {
			const n = 10
			var wg sync.WaitGroup
			wg.Add(n)
			started.Add(n)
			for i := 0; i < n; i++ {
				go func() {
					defer wg.Done()
					started.Done()
					oid, err := r.Resolve(ctx, "cid-missing")
					c.So(err, ShouldBeNil)
					c.So(oid, ShouldEqual, igis.OID("oid-from-fetch"))
				}()
			}
			wg.Wait()
			So(atomic.LoadInt32(&calls), ShouldEqual, 1)
		})
	})
}
