package store

import (
	"context"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMemcachedExpiration(t *testing.T) {
	Convey("Given a memcached backend", t, func() {
		now := time.Unix(1_700_000_000, 0)
		m := NewMemcached(0, 0, "127.0.0.1:11211")
		m.now = func() time.Time { return now }

		Convey("When the ttl is a whole number of seconds", func() {
			So(m.expiration(60*time.Second), ShouldEqual, 60)
		})

		Convey("When the ttl has a fractional second", func() {
			So(m.expiration(1500*time.Millisecond), ShouldEqual, 2)
		})

		Convey("When the ttl is zero", func() {
			So(m.expiration(0), ShouldEqual, 0)
		})

		Convey("When the ttl exceeds thirty days", func() {
			ttl := 31 * 24 * time.Hour
			So(m.expiration(ttl), ShouldEqual, int32(now.Unix()+int64(ttl/time.Second)))
		})

		Convey("When the absolute expiry would pass the int32 range", func() {
			exp := m.expiration(175200 * time.Hour)

			So(exp, ShouldBeGreaterThan, 0)
			So(exp, ShouldEqual, int32(math.MaxInt32))
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := m.Exists(ctx, "k")
			So(err, ShouldEqual, context.Canceled)

			_, err = m.Add(ctx, "k", nil, time.Second)
			So(err, ShouldEqual, context.Canceled)

			So(m.Set(ctx, "k", nil, time.Second), ShouldEqual, context.Canceled)
		})
	})
}
