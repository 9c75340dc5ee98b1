package notify

import (
	"context"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/metrics"
)

func receive(sub Subscription) (Event, bool) {
	select {
	case e, ok := <-sub.Events():
		return e, ok
	case <-time.After(time.Second):
		return Event{}, false
	}
}

func noEvent(sub Subscription) bool {
	select {
	case <-sub.Events():
		return false
	case <-time.After(20 * time.Millisecond):
		return true
	}
}

func TestHub(t *testing.T) {
	convey.Convey("Given a hub", t, func() {
		ctx := context.Background()
		hub := NewHub(WithBufferSize(2), WithMetrics(metrics.NewManager()))
		defer hub.Close()

		convey.Convey("When a project-scoped subscriber listens", func() {
			sub, err := hub.Subscribe(ctx, evaluation.Scope("p1"))
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then it receives events for its project", func() {
				convey.So(hub.Publish(ctx, Event{Table: TableRequests, Kind: KindInsert, ProjectID: "p1"}), convey.ShouldBeNil)
				e, ok := receive(sub)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(e.Table, convey.ShouldEqual, TableRequests)
			})

			convey.Convey("Then it ignores other projects", func() {
				convey.So(hub.Publish(ctx, Event{Table: TableRequests, ProjectID: "p2"}), convey.ShouldBeNil)
				convey.So(noEvent(sub), convey.ShouldBeTrue)
			})

			convey.Convey("Then it receives broadcasts without a project", func() {
				convey.So(hub.Publish(ctx, Event{Table: TableRecords, Kind: KindDelete}), convey.ShouldBeNil)
				e, ok := receive(sub)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(e.Kind, convey.ShouldEqual, KindDelete)
			})
		})

		convey.Convey("When a subscriber does not drain its buffer", func() {
			sub, err := hub.Subscribe(ctx, evaluation.ScopeAll)
			convey.So(err, convey.ShouldBeNil)

			for i := 0; i < 5; i++ {
				convey.So(hub.Publish(ctx, Event{Table: TableRequests}), convey.ShouldBeNil)
			}

			convey.Convey("Then publishing never blocks and extra events are dropped", func() {
				_, ok := receive(sub)
				convey.So(ok, convey.ShouldBeTrue)
				_, ok = receive(sub)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(noEvent(sub), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the subscription context is canceled", func() {
			subCtx, cancel := context.WithCancel(ctx)
			sub, err := hub.Subscribe(subCtx, evaluation.ScopeAll)
			convey.So(err, convey.ShouldBeNil)
			cancel()

			convey.Convey("Then its channel is closed and it is removed", func() {
				_, ok := receive(sub)
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(hub.Len(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the hub is closed", func() {
			sub, err := hub.Subscribe(ctx, evaluation.ScopeAll)
			convey.So(err, convey.ShouldBeNil)
			convey.So(hub.Close(), convey.ShouldBeNil)

			convey.Convey("Then subscriptions end and publishing fails", func() {
				_, ok := receive(sub)
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(hub.Publish(ctx, Event{Table: TableRecords}), convey.ShouldEqual, ErrClosed)
				_, err := hub.Subscribe(ctx, evaluation.ScopeAll)
				convey.So(err, convey.ShouldEqual, ErrClosed)
			})
		})
	})
}
