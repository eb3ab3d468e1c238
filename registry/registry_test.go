package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterGet(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("a", "alpha"))

	v, ok := reg.Get("a")
	require.True(t, ok)
	require.Equal(t, "alpha", v)

	v, ok = reg.Get("missing")
	require.False(t, ok)
	require.Empty(t, v)
}

func TestRegistry_List_OrderThenInsertion(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("c", "c", WithOrder(10)))
	require.NoError(t, reg.Register("a", "a", WithOrder(5)))
	require.NoError(t, reg.Register("b", "b", WithOrder(5)))
	require.NoError(t, reg.Register("d", "d", WithOrder(-1)))

	require.Equal(t, []string{"d", "a", "b", "c"}, reg.List())
	require.Equal(t, []string{"d", "a", "b", "c"}, reg.Keys())
}

func TestRegistry_EqualOrderKeepsRegistrationOrder(t *testing.T) {
	reg := New[int]("test")
	for i := 0; i < 20; i++ {
		require.NoError(t, reg.Register(fmt.Sprintf("k%02d", i), i))
	}
	list := reg.List()
	for i, v := range list {
		require.Equal(t, i, v)
	}
}

func TestRegistry_Replace_KeepsLengthAndResetsTieBreak(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("a", "a1"))
	require.NoError(t, reg.Register("b", "b1"))
	require.NoError(t, reg.Register("c", "c1"))

	require.NoError(t, reg.Register("a", "a2"))

	require.Equal(t, 3, reg.Len())
	require.Equal(t, []string{"b1", "c1", "a2"}, reg.List())
}

func TestRegistry_Replace_UsesNewOrder(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("a", "a", WithOrder(1)))
	require.NoError(t, reg.Register("b", "b", WithOrder(2)))
	require.NoError(t, reg.Register("a", "a", WithOrder(3)))

	e, ok := reg.Entry("a")
	require.True(t, ok)
	require.Equal(t, 3, e.Order)
	require.Equal(t, []string{"b", "a"}, reg.Keys())
}

func TestRegistry_DefaultOrder(t *testing.T) {
	reg := New[string]("test", WithDefaultOrder(100))
	require.NoError(t, reg.Register("late", "late"))
	require.NoError(t, reg.Register("early", "early", WithOrder(0)))

	e, _ := reg.Entry("late")
	require.Equal(t, 100, e.Order)
	require.Equal(t, []string{"early", "late"}, reg.List())
}

func TestRegistry_Unregister_MissingIsNoop(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Unregister("nope"))
}

func TestRegistry_Unregister_Removes(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("a", "a"))
	require.NoError(t, reg.Unregister("a"))
	require.False(t, reg.Has("a"))
	require.Empty(t, reg.List())
}

func TestRegistry_Protected(t *testing.T) {
	reg := New[string]("steps")
	require.NoError(t, reg.Register("begin", "original", Protect(true)))

	err := reg.Register("begin", "replacement")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrProtected))
	var pe *ProtectedEntryError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "steps", pe.Registry)
	require.Equal(t, "begin", pe.Key)
	require.Equal(t, "register", pe.Op)

	err = reg.Unregister("begin")
	require.True(t, IsProtected(err))

	v, _ := reg.Get("begin")
	require.Equal(t, "original", v)
	require.Equal(t, []string{"original"}, reg.List())
}

func TestRegistry_Protected_ForceOverrides(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("k", "v1", Protect(true)))

	require.NoError(t, reg.Register("k", "v2", Force()))
	e, _ := reg.Entry("k")
	require.Equal(t, "v2", e.Value)
	require.True(t, e.Protected, "replacement without Protect keeps the flag")

	require.NoError(t, reg.Unregister("k", Force()))
	require.False(t, reg.Has("k"))
}

func TestRegistry_Unprotect_AllowsMutation(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("k", "v1", Protect(true)))
	require.Error(t, reg.Unregister("k"))

	require.NoError(t, reg.Unprotect("k"))
	require.NoError(t, reg.Register("k", "v2"))
	require.NoError(t, reg.Unregister("k"))
}

func TestRegistry_Protect_MissingKey(t *testing.T) {
	reg := New[string]("test")
	err := reg.Protect("ghost")
	require.True(t, IsNotFound(err))
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, "protect", nf.Op)

	require.True(t, IsNotFound(reg.Unprotect("ghost")))
}

func TestRegistry_Protect_ThenRegisterFails(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("k", "v"))
	require.NoError(t, reg.Protect("k"))
	require.True(t, IsProtected(reg.Register("k", "w")))
}

func TestRegistry_Clear(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("a", "a"))
	require.NoError(t, reg.Register("b", "b", Protect(true)))
	require.NoError(t, reg.Register("c", "c"))

	require.Equal(t, 2, reg.Clear())
	require.Equal(t, []string{"b"}, reg.Keys())

	require.Equal(t, 1, reg.Clear(Force()))
	require.Zero(t, reg.Len())
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("a", "a"))
	require.NoError(t, reg.Register("b", "b"))

	snap := reg.List()
	require.NoError(t, reg.Register("c", "c", WithOrder(-10)))
	require.NoError(t, reg.Unregister("a"))

	require.Equal(t, []string{"a", "b"}, snap)
	require.Equal(t, []string{"c", "b"}, reg.List())
}

func TestRegistry_SnapshotNotAliased(t *testing.T) {
	reg := New[string]("test")
	require.NoError(t, reg.Register("a", "a"))
	first := reg.List()
	first[0] = "mutated"
	require.Equal(t, []string{"a"}, reg.List())
}

type conn struct {
	id   string
	open bool
}

func (c *conn) Alive() bool { return c.open }

func TestRegistry_CleanMode_LivenessInterface(t *testing.T) {
	reg := New[*conn]("clients", WithMode(ModeClean))
	c1 := &conn{id: "1", open: true}
	c2 := &conn{id: "2", open: true}
	require.NoError(t, reg.Register(c1.id, c1))
	require.NoError(t, reg.Register(c2.id, c2))
	require.Len(t, reg.List(), 2)

	c1.open = false
	list := reg.List()
	require.Len(t, list, 1)
	require.Equal(t, "2", list[0].id)
	require.Equal(t, 1, reg.Len(), "dead entries are removed, not hidden")

	c2.open = false
	_, ok := reg.Get("2")
	require.False(t, ok)
	require.Zero(t, reg.Len())
}

func TestRegistry_CleanMode_Probe(t *testing.T) {
	gone := map[string]bool{}
	reg := New[string]("sessions", WithProbe(func(id string) bool { return !gone[id] }))
	require.Equal(t, ModeClean, reg.Mode())

	require.NoError(t, reg.Register("s1", "s1"))
	require.NoError(t, reg.Register("s2", "s2", Protect(true)))

	gone["s2"] = true
	require.Equal(t, []string{"s1"}, reg.List(), "liveness wins over protection")
}

func TestRegistry_DefaultMode_IgnoresLiveness(t *testing.T) {
	reg := New[*conn]("test")
	require.NoError(t, reg.Register("x", &conn{id: "x"}))
	require.Len(t, reg.List(), 1)
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	reg := New[int]("test")
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("g%d-%d", g, i%10)
				_ = reg.Register(key, i, WithOrder(i%3))
				_ = reg.List()
				if i%4 == 0 {
					_ = reg.Unregister(key)
				}
			}
		}(g)
	}
	wg.Wait()
	require.LessOrEqual(t, reg.Len(), 80)
}
