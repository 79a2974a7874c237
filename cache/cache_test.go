package cache

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/ipfs-shipyard/git-remote-igis"
)

func withStore(t *testing.T, fn func(*Store)) {
	dir, err := ioutil.TempDir("", "igis-cache-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	fn(s)
}

func TestCache(t *testing.T) {
	Convey("Given an empty cache", t, func() {
		withStore(t, func(s *Store) {
			ctx := context.Background()

			Convey("Get on a missing key reports absent", func() {
				_, found, err := s.Get(ctx, OIDKey("deadbeef"))
				So(err, ShouldBeNil)
				So(found, ShouldBeFalse)
			})

			Convey("Put then Get round-trips the value", func() {
				key := OIDKey(igis.OID("aaaa"))
				So(s.Put(ctx, key, []byte("cid1")), ShouldBeNil)
				v, found, err := s.Get(ctx, key)
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(string(v), ShouldEqual, "cid1")
			})

			Convey("Put with the same value twice is a no-op", func() {
				key := OIDKey(igis.OID("aaaa"))
				So(s.Put(ctx, key, []byte("cid1")), ShouldBeNil)
				So(s.Put(ctx, key, []byte("cid1")), ShouldBeNil)
			})

			Convey("Put with a differing value is CacheInconsistent", func() {
				key := OIDKey(igis.OID("aaaa"))
				So(s.Put(ctx, key, []byte("cid1")), ShouldBeNil)
				err := s.Put(ctx, key, []byte("cid2"))
				So(err, ShouldNotBeNil)
				So(errcat.Category(err), ShouldEqual, igis.ErrCacheInconsistent)
			})

			Convey("Iterate sees every key written, and Drop empties the store", func() {
				So(s.Put(ctx, OIDKey("a"), []byte("1")), ShouldBeNil)
				So(s.Put(ctx, OIDKey("b"), []byte("2")), ShouldBeNil)
				So(s.Put(ctx, ModesKey("a"), []byte("3")), ShouldBeNil)

				it, err := s.Iterate(ctx)
				So(err, ShouldBeNil)
				count := 0
				for it.Next() {
					count++
				}
				So(it.Err(), ShouldBeNil)
				So(it.Close(), ShouldBeNil)
				So(count, ShouldEqual, 3)

				So(s.Drop(ctx), ShouldBeNil)
				_, found, err := s.Get(ctx, OIDKey("a"))
				So(err, ShouldBeNil)
				So(found, ShouldBeFalse)
			})
		})
	})
}
