package stream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tekorita/talatrivia/internal/stream"
)

func TestHub_PublishFansOutPerTrivia(t *testing.T) {
	t.Parallel()

	h := stream.NewHub(stream.HubConfig{})

	s1 := h.Subscribe("t1", stream.RolePlayer)
	defer h.Unsubscribe(s1)
	s2 := h.Subscribe("t1", stream.RolePlayer)
	defer h.Unsubscribe(s2)
	other := h.Subscribe("t2", stream.RolePlayer)
	defer h.Unsubscribe(other)

	h.Publish("t1", stream.Event{Type: "status_updated", Audience: stream.AudienceAll})

	for _, s := range []*stream.Subscriber{s1, s2} {
		e := receive(t, s)
		require.Equal(t, "status_updated", e.Type)
	}
	require.Empty(t, other.C(), "subscribers of other trivias should receive nothing")
}

func TestHub_AudienceFiltering(t *testing.T) {
	type (
		inputs struct {
			audience stream.Audience
		}

		outputs struct {
			player bool
			admin  bool
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"all should reach both roles": {
			arrange: func() inputs { return inputs{audience: stream.AudienceAll} },
			assert: func(t *testing.T, out outputs) {
				require.True(t, out.player)
				require.True(t, out.admin)
			},
		},

		"players should reach only player connections": {
			arrange: func() inputs { return inputs{audience: stream.AudiencePlayers} },
			assert: func(t *testing.T, out outputs) {
				require.True(t, out.player)
				require.False(t, out.admin)
			},
		},

		"admins should reach only admin connections": {
			arrange: func() inputs { return inputs{audience: stream.AudienceAdmins} },
			assert: func(t *testing.T, out outputs) {
				require.False(t, out.player)
				require.True(t, out.admin)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()

			h := stream.NewHub(stream.HubConfig{})
			player := h.Subscribe("t1", stream.RolePlayer)
			defer h.Unsubscribe(player)
			admin := h.Subscribe("t1", stream.RoleAdmin)
			defer h.Unsubscribe(admin)

			h.Publish("t1", stream.Event{Type: "lobby_updated", Audience: in.audience})

			tt.assert(t, outputs{
				player: len(player.C()) == 1,
				admin:  len(admin.C()) == 1,
			})
		})
	}
}

func TestHub_SlowSubscriberLosesEventsNotTheHub(t *testing.T) {
	t.Parallel()

	h := stream.NewHub(stream.HubConfig{SubscriberBuffer: 2})

	slow := h.Subscribe("t1", stream.RolePlayer)
	defer h.Unsubscribe(slow)
	fast := h.Subscribe("t1", stream.RolePlayer)
	defer h.Unsubscribe(fast)

	// Nobody drains slow; the publishes past its buffer are dropped
	// without blocking.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			h.Publish("t1", stream.Event{Type: "ranking_updated", Audience: stream.AudienceAll})
			<-fast.C()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Equal(t, 2, len(slow.C()), "the slow subscriber keeps only its buffered events")
}

func TestHub_UnsubscribeClosesQueue(t *testing.T) {
	t.Parallel()

	h := stream.NewHub(stream.HubConfig{})
	sub := h.Subscribe("t1", stream.RolePlayer)

	h.Unsubscribe(sub)
	// Idempotent.
	h.Unsubscribe(sub)

	_, ok := <-sub.C()
	require.False(t, ok, "queue should be closed")

	// Publishing after the last unsubscribe is a no-op.
	h.Publish("t1", stream.Event{Type: "status_updated", Audience: stream.AudienceAll})
}

func receive(t *testing.T, s *stream.Subscriber) stream.Event {
	t.Helper()

	select {
	case e := <-s.C():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return stream.Event{}
	}
}
