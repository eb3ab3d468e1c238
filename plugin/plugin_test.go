package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/registry"
)

func newManager(t *testing.T, opts ...Option) (*Manager, *hook.Dispatcher) {
	t.Helper()
	hooks := hook.New()
	return New(hooks, opts...), hooks
}

func TestManager_RegisterAndActivate(t *testing.T) {
	ctx := context.Background()
	m, hooks := newManager(t)

	var events []string
	hooks.Register(ActivateHook, func(ctx context.Context, args ...interface{}) error {
		events = append(events, "activate:"+args[0].(Descriptor).ID)
		return nil
	})
	hooks.Register(DeactivateHook, func(ctx context.Context, args ...interface{}) error {
		events = append(events, "deactivate:"+args[0].(Descriptor).ID)
		return nil
	})

	require.NoError(t, m.Register(ctx, Descriptor{ID: "Syndicate", Name: "Syndicate Plugin"}, false))
	assert.False(t, m.IsActive("Syndicate"))

	require.NoError(t, m.Activate(ctx, "Syndicate"))
	assert.True(t, m.IsActive("Syndicate"))
	require.NoError(t, m.Activate(ctx, "Syndicate"), "activating twice is a no-op")

	require.NoError(t, m.Deactivate(ctx, "Syndicate"))
	assert.False(t, m.IsActive("Syndicate"))

	assert.Equal(t, []string{"activate:Syndicate", "deactivate:Syndicate"}, events)
}

func TestManager_ActivateHookFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	m, hooks := newManager(t)
	require.NoError(t, m.Register(ctx, Descriptor{ID: "p"}, false))
	hooks.Register(ActivateHook, func(context.Context, ...interface{}) error { return errors.New("missing settings") })

	err := m.Activate(ctx, "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, hook.ErrHookFailed)
	assert.False(t, m.IsActive("p"))
}

func TestManager_UnknownPlugin(t *testing.T) {
	m, _ := newManager(t)
	err := m.Activate(context.Background(), "ghost")
	assert.True(t, registry.IsNotFound(err))
	assert.True(t, registry.IsNotFound(m.Update(context.Background(), "ghost", Descriptor{})))
	assert.False(t, m.IsActive("ghost"))
}

func TestManager_ReRegisterKeepsActiveFlag(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	require.NoError(t, m.Register(ctx, Descriptor{ID: "p", Name: "v1"}, true))
	require.NoError(t, m.Register(ctx, Descriptor{ID: "p", Name: "v2"}, false))

	assert.True(t, m.IsActive("p"))
	d, _ := m.Get("p")
	assert.Equal(t, "v2", d.Name)
}

func TestManager_BuiltInIsProtected(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	require.NoError(t, m.Register(ctx, Descriptor{ID: "Users", BuiltIn: true}, true))

	err := m.Register(ctx, Descriptor{ID: "Users", Name: "impostor"}, true)
	assert.ErrorIs(t, err, registry.ErrProtected)
	assert.True(t, registry.IsProtected(m.Unregister("Users", false)))
	require.NoError(t, m.Unregister("Users", true))
	assert.False(t, m.IsActive("Users"))
}

func TestManager_Update(t *testing.T) {
	ctx := context.Background()
	m, hooks := newManager(t)
	require.NoError(t, m.Register(ctx, Descriptor{ID: "p", Version: Version{Plugin: "1.0.0"}}, true))

	var gotNew, gotOld Descriptor
	hooks.Register(UpdateHook, func(ctx context.Context, args ...interface{}) error {
		gotNew, gotOld = args[0].(Descriptor), args[1].(Descriptor)
		return nil
	})
	require.NoError(t, m.Update(ctx, "p", Descriptor{Version: Version{Plugin: "1.1.0"}}))
	assert.Equal(t, "1.1.0", gotNew.Version.Plugin)
	assert.Equal(t, "1.0.0", gotOld.Version.Plugin)
	assert.True(t, m.IsActive("p"))

	err := m.Update(ctx, "p", Descriptor{ID: "other"})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestManager_UpdateKeepsBuiltInProtected(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	require.NoError(t, m.Register(ctx, Descriptor{ID: "core", BuiltIn: true}, true))

	require.NoError(t, m.Update(ctx, "core", Descriptor{Name: "renamed"}))
	d, ok := m.Get("core")
	require.True(t, ok)
	assert.Equal(t, "renamed", d.Name)
	assert.True(t, d.BuiltIn)

	assert.True(t, registry.IsProtected(m.Unregister("core", false)))
	_, ok = m.Get("core")
	assert.True(t, ok)
	require.NoError(t, m.Unregister("core", true))
}

func TestManager_Validation(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, WithRuntimeVersion("5.2.0"))

	assert.ErrorIs(t, m.Register(ctx, Descriptor{}, true), ErrInvalidDescriptor)
	assert.ErrorIs(t, m.Register(ctx, Descriptor{ID: "p", Version: Version{Plugin: "not-a-version"}}, true), ErrInvalidDescriptor)

	err := m.Register(ctx, Descriptor{ID: "old", Version: Version{Runtime: "<5.0.0"}}, true)
	assert.ErrorIs(t, err, ErrIncompatible)
	var ie *IncompatibleError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "old", ie.ID)

	require.NoError(t, m.Register(ctx, Descriptor{ID: "ok", Version: Version{Runtime: ">5.0.0"}}, true))
}

func TestManager_ListInOrder(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	require.NoError(t, m.Register(ctx, Descriptor{ID: "late", Order: 100}, false))
	require.NoError(t, m.Register(ctx, Descriptor{ID: "early", Order: -100}, true))

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.True(t, list[0].Active)
	assert.Equal(t, "late", list[1].ID)
	assert.False(t, list[1].Active)
}

func TestManager_RegisterHook(t *testing.T) {
	ctx := context.Background()
	m, hooks := newManager(t)
	var seen []string
	hooks.Register(RegisterHook, func(ctx context.Context, args ...interface{}) error {
		if args[1].(bool) {
			seen = append(seen, args[0].(Descriptor).ID)
		}
		return nil
	})
	require.NoError(t, m.Register(ctx, Descriptor{ID: "a"}, true))
	require.NoError(t, m.Register(ctx, Descriptor{ID: "b"}, false))
	assert.Equal(t, []string{"a"}, seen)
}

func TestManager_GateAndForPlugin(t *testing.T) {
	ctx := context.Background()
	m, hooks := newManager(t)
	require.NoError(t, m.Register(ctx, Descriptor{ID: "mine"}, false))
	require.NoError(t, m.Register(ctx, Descriptor{ID: "theirs"}, false))

	calls := 0
	hooks.Register("schema", m.Gate("mine", func(context.Context, ...interface{}) error {
		calls++
		return nil
	}))
	require.NoError(t, hooks.Run(ctx, "schema"))
	assert.Zero(t, calls)

	activations := 0
	hooks.Register(ActivateHook, ForPlugin("mine", func(context.Context, ...interface{}) error {
		activations++
		return nil
	}))
	require.NoError(t, m.Activate(ctx, "theirs"))
	require.NoError(t, m.Activate(ctx, "mine"))
	assert.Equal(t, 1, activations)

	require.NoError(t, hooks.Run(ctx, "schema"))
	assert.Equal(t, 1, calls)
}
