package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/astromechza/copypad/pkg/relay"
	"github.com/astromechza/copypad/pkg/store"
)

type fakeMember struct {
	id   string
	dead bool

	mu  sync.Mutex
	got []string
}

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) Deliver(text string) bool {
	if f.dead {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, text)
	return true
}

func (f *fakeMember) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

type flakyStore struct {
	store.Store
	fail  atomic.Bool
	loads atomic.Int32
}

func (f *flakyStore) Load(ctx context.Context, path string) (store.Document, error) {
	f.loads.Add(1)
	if f.fail.Load() {
		return store.Document{}, errors.New("store unreachable")
	}
	return f.Store.Load(ctx, path)
}

func TestJoinSendsSeededSnapshot(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.SaveText(context.Background(), "doc", "stored text"))
	g := NewRegistry(s)
	defer g.Close()

	a := &fakeMember{id: "a"}
	r, text, err := g.Join(context.Background(), "doc", a)
	require.NoError(t, err)
	require.Equal(t, "stored text", text)
	require.Equal(t, "doc", r.Path())
	require.Equal(t, []string{"stored text"}, a.received())

	// A path never saved seeds empty.
	b := &fakeMember{id: "b"}
	_, text, err = g.Join(context.Background(), "empty", b)
	require.NoError(t, err)
	require.Equal(t, "", text)
	require.Equal(t, []string{""}, b.received())
}

func TestSubmitReachesPeersButNotSender(t *testing.T) {
	g := NewRegistry(store.NewMemory())
	defer g.Close()
	ctx := context.Background()

	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r, _, err := g.Join(ctx, "doc", a)
	require.NoError(t, err)
	_, _, err = g.Join(ctx, "doc", b)
	require.NoError(t, err)

	require.NoError(t, r.Submit(ctx, a, "hello from a"))
	text, err := r.Text(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello from a", text)

	require.Equal(t, []string{""}, a.received())
	require.Equal(t, []string{"", "hello from a"}, b.received())
}

func TestLastWriteWinsAndLateJoin(t *testing.T) {
	g := NewRegistry(store.NewMemory())
	defer g.Close()
	ctx := context.Background()

	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r, _, err := g.Join(ctx, "doc", a)
	require.NoError(t, err)
	_, _, err = g.Join(ctx, "doc", b)
	require.NoError(t, err)

	require.NoError(t, r.Submit(ctx, a, "X"))
	require.NoError(t, r.Submit(ctx, b, "Y"))

	text, err := r.Text(ctx)
	require.NoError(t, err)
	require.Equal(t, "Y", text)

	c := &fakeMember{id: "c"}
	_, text, err = g.Join(ctx, "doc", c)
	require.NoError(t, err)
	require.Equal(t, "Y", text)
	require.Equal(t, []string{"Y"}, c.received())
}

func TestDeadMemberDoesNotBlockOthers(t *testing.T) {
	g := NewRegistry(store.NewMemory())
	defer g.Close()
	ctx := context.Background()

	a, dead, c := &fakeMember{id: "a"}, &fakeMember{id: "dead", dead: true}, &fakeMember{id: "c"}
	r, _, err := g.Join(ctx, "doc", a)
	require.NoError(t, err)
	_, _, err = g.Join(ctx, "doc", dead)
	require.NoError(t, err)
	_, _, err = g.Join(ctx, "doc", c)
	require.NoError(t, err)

	require.NoError(t, r.Submit(ctx, a, "still delivered"))
	text, err := r.Text(ctx)
	require.NoError(t, err)
	require.Equal(t, "still delivered", text)
	require.Equal(t, []string{"", "still delivered"}, c.received())
}

func TestConcurrentFirstJoinsShareOneRoom(t *testing.T) {
	g := NewRegistry(store.NewMemory())
	defer g.Close()

	const n = 32
	rooms := make([]*Room, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i], _, errs[i] = g.Join(context.Background(), "same", &fakeMember{id: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	for i, r := range rooms {
		require.NoError(t, errs[i])
		require.Same(t, rooms[0], r)
	}
	require.Equal(t, 1, g.Len())
}

func TestRetiredRoomReseedsFromStore(t *testing.T) {
	s := store.NewMemory()
	g := NewRegistry(s)
	defer g.Close()
	ctx := context.Background()

	a := &fakeMember{id: "a"}
	r, _, err := g.Join(ctx, "doc", a)
	require.NoError(t, err)
	require.NoError(t, r.Submit(ctx, a, "unsaved live text"))

	r.Leave(a)
	<-r.Done()
	require.Equal(t, 0, g.Len())

	// Changed behind the registry's back while no room was live.
	require.NoError(t, s.SaveText(ctx, "doc", "edited externally"))

	b := &fakeMember{id: "b"}
	r2, text, err := g.Join(ctx, "doc", b)
	require.NoError(t, err)
	require.NotSame(t, r, r2)
	require.Equal(t, "edited externally", text)
}

func TestRoomStaysWhileMembersRemain(t *testing.T) {
	g := NewRegistry(store.NewMemory())
	defer g.Close()
	ctx := context.Background()

	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r, _, err := g.Join(ctx, "doc", a)
	require.NoError(t, err)
	_, _, err = g.Join(ctx, "doc", b)
	require.NoError(t, err)

	r.Leave(a)
	text, err := r.Text(ctx)
	require.NoError(t, err)
	require.Equal(t, "", text)
	require.Equal(t, 1, g.Len())

	// Deliveries no longer reach a.
	require.NoError(t, r.Submit(ctx, b, "b only"))
	_, err = r.Text(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{""}, a.received())
}

func TestSeedFailureSurfacesAndRetries(t *testing.T) {
	s := &flakyStore{Store: store.NewMemory()}
	require.NoError(t, s.SaveText(context.Background(), "doc", "persisted"))
	s.fail.Store(true)
	g := NewRegistry(s)
	defer g.Close()

	_, _, err := g.Join(context.Background(), "doc", &fakeMember{id: "a"})
	require.EqualError(t, err, "store unreachable")
	require.Equal(t, 0, g.Len())

	s.fail.Store(false)
	_, text, err := g.Join(context.Background(), "doc", &fakeMember{id: "b"})
	require.NoError(t, err)
	require.Equal(t, "persisted", text)
	require.Equal(t, int32(2), s.loads.Load())
}

type slowStore struct {
	store.Store
	release chan struct{}
}

func (s *slowStore) Load(ctx context.Context, path string) (store.Document, error) {
	<-s.release
	return s.Store.Load(ctx, path)
}

func TestAbandonedJoinDoesNotLeakRoom(t *testing.T) {
	s := &slowStore{Store: store.NewMemory(), release: make(chan struct{})}
	g := NewRegistry(s)
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := g.Join(ctx, "doc", &fakeMember{id: "a"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, g.Len())

	// Once seeding finishes the memberless room retires itself.
	close(s.release)
	require.Eventually(t, func() bool { return g.Len() == 0 }, time.Second, time.Millisecond)
}

func TestInvalidPathAndClosedRegistry(t *testing.T) {
	g := NewRegistry(store.NewMemory())
	_, _, err := g.Join(context.Background(), "", &fakeMember{id: "a"})
	require.ErrorIs(t, err, store.ErrInvalidPath)

	r, _, err := g.Join(context.Background(), "doc", &fakeMember{id: "a"})
	require.NoError(t, err)
	g.Close()
	<-r.Done()

	_, _, err = g.Join(context.Background(), "doc", &fakeMember{id: "b"})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, r.Submit(context.Background(), nil, "late"), ErrRetired)
}

func TestRelayCarriesEditsBetweenRegistries(t *testing.T) {
	bus := relay.NewBus()
	s := store.NewMemory()
	g1 := NewRegistry(s, WithRelay(bus.Node()))
	defer g1.Close()
	g2 := NewRegistry(s, WithRelay(bus.Node()))
	defer g2.Close()
	ctx := context.Background()

	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r1, _, err := g1.Join(ctx, "doc", a)
	require.NoError(t, err)
	r2, _, err := g2.Join(ctx, "doc", b)
	require.NoError(t, err)

	require.NoError(t, r1.Submit(ctx, a, "across processes"))
	require.Eventually(t, func() bool {
		text, err := r2.Text(ctx)
		return err == nil && text == "across processes"
	}, time.Second, time.Millisecond)
	require.Equal(t, []string{"", "across processes"}, b.received())
	// The origin's own member never sees its edit echoed.
	require.Equal(t, []string{""}, a.received())
}

func TestSlotKeepsNewest(t *testing.T) {
	s := NewSlot()
	_, ok := s.Take()
	require.False(t, ok)

	s.Put("one")
	s.Put("two")
	<-s.Ready()
	text, ok := s.Take()
	require.True(t, ok)
	require.Equal(t, "two", text)
	_, ok = s.Take()
	require.False(t, ok)
}
