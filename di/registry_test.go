package di

import (
	"context"
	"reflect"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface{ Greet() string }

type englishGreeter struct{}

func (englishGreeter) Greet() string { return "hello" }

func valueDef(name string, v any, opts ...Option) *Definition {
	return NewDefinition(name, Instance(v), opts...)
}

func TestRegistry_DuplicateRejectedWithoutOverriding(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Register(valueDef("a", 1)))

	err := r.Register(valueDef("a", 2))
	var dup *DuplicateDefinitionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a", dup.Name)

	def, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, def.Strategy.Instance)
}

func TestRegistry_OverridingReplaces(t *testing.T) {
	r := NewRegistry(true)
	require.NoError(t, r.Register(valueDef("a", 1)))
	require.NoError(t, r.Register(valueDef("a", 2)))

	def, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, def.Strategy.Instance)
	assert.Equal(t, []string{"a"}, slices.Collect(r.Names()))
}

func TestRegistry_OverridingRejectedWhileInUse(t *testing.T) {
	r := NewRegistry(true)
	r.inUse = func(name string) error { return &DefinitionInUseError{Name: name} }
	require.NoError(t, r.Register(valueDef("a", 1)))

	var inUse *DefinitionInUseError
	assert.ErrorAs(t, r.Register(valueDef("a", 2)), &inUse)
	assert.ErrorAs(t, r.Remove("a"), &inUse)
	assert.True(t, r.Contains("a"))
}

func TestRegistry_RegisterStoresCopy(t *testing.T) {
	r := NewRegistry(false)
	def := valueDef("a", 1, WithAliases("x"), WithRefs("b"))
	require.NoError(t, r.Register(def))

	def.Aliases[0] = "mutated"
	def.DependsOn[0].Name = "mutated"
	def.Attributes.Set("k", "v")

	stored, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, stored.Aliases)
	assert.Equal(t, "b", stored.DependsOn[0].Name)
	_, ok := stored.Attributes.Get("k")
	assert.False(t, ok)
}

func TestRegistry_AliasChains(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Register(valueDef("service", 1, WithAliases("svc"))))
	require.NoError(t, r.RegisterAlias("s", "svc"))

	for _, name := range []string{"service", "svc", "s"} {
		got, err := r.ResolveAlias(name)
		require.NoError(t, err)
		assert.Equal(t, "service", got)
	}
	assert.Equal(t, []string{"s", "svc"}, r.Aliases("service"))

	got, err := r.ResolveAlias("unknown")
	require.NoError(t, err)
	assert.Equal(t, "unknown", got)
}

func TestRegistry_AliasResolutionIdempotent(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Register(valueDef("a", 1)))
	require.NoError(t, r.RegisterAlias("b", "a"))
	require.NoError(t, r.RegisterAlias("c", "b"))

	for _, x := range []string{"a", "b", "c", "missing"} {
		once, err := r.ResolveAlias(x)
		require.NoError(t, err)
		twice, err := r.ResolveAlias(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "resolving %q twice", x)
	}
}

func TestRegistry_AliasCycle(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.RegisterAlias("a", "b"))
	require.NoError(t, r.RegisterAlias("b", "c"))

	var cycle *AliasCycleError
	err := r.RegisterAlias("c", "a")
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"c", "a", "b", "c"}, cycle.Chain)

	assert.ErrorAs(t, r.RegisterAlias("self", "self"), &cycle)
}

func TestRegistry_AliasCannotShadowDefinition(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Register(valueDef("a", 1)))
	require.NoError(t, r.Register(valueDef("b", 2)))

	var dup *DuplicateDefinitionError
	assert.ErrorAs(t, r.RegisterAlias("a", "b"), &dup)
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry(false)
	_, err := r.Get("nope")
	assert.True(t, IsNoSuchDefinition(err))
	assert.True(t, IsNoSuchDefinition(r.Remove("nope")))
}

func TestRegistry_RemoveDropsAliases(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Register(valueDef("a", 1, WithAliases("a1"))))
	require.NoError(t, r.RegisterAlias("a2", "a1"))
	require.NoError(t, r.RegisterAlias("a3", "a2"))
	require.NoError(t, r.Register(valueDef("b", 2, WithAliases("b1"))))

	require.NoError(t, r.Remove("a2"))

	assert.False(t, r.Contains("a"))
	assert.Empty(t, r.Aliases("a"))
	for _, alias := range []string{"a1", "a2", "a3"} {
		got, err := r.ResolveAlias(alias)
		require.NoError(t, err)
		assert.Equal(t, alias, got, "alias %q should be gone", alias)
	}
	assert.True(t, r.Contains("b1"))
}

func TestRegistry_NamesInsertionOrderAndRestartable(t *testing.T) {
	r := NewRegistry(false)
	for _, n := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(valueDef(n, n)))
	}
	names := r.Names()
	assert.Equal(t, []string{"c", "a", "b"}, slices.Collect(names))
	assert.Equal(t, []string{"c", "a", "b"}, slices.Collect(names))
}

func TestRegistry_NamesSnapshotDuringRegistration(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Register(valueDef("a", 1)))
	require.NoError(t, r.Register(valueDef("b", 2)))

	var seen []string
	for name := range r.Names() {
		seen = append(seen, name)
		require.NoError(t, r.Register(valueDef(name+"-late", 0)))
	}
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, 4, r.Len())
}

func TestRegistry_NamesForType(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Register(valueDef("en", englishGreeter{})))
	require.NoError(t, r.Register(NewDefinition("lazy-en", Constructor(func(ctx context.Context, args ...any) (any, error) {
		return englishGreeter{}, nil
	}), WithTypeOf[englishGreeter]())))
	require.NoError(t, r.Register(valueDef("n", 42)))

	assert.Equal(t, []string{"en", "lazy-en"}, r.NamesForType(reflect.TypeFor[greeter]()))
	assert.Equal(t, []string{"n"}, r.NamesForType(reflect.TypeFor[int]()))
}

func TestRegistry_InvalidDefinition(t *testing.T) {
	r := NewRegistry(false)
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(NewDefinition("", Instance(1))))
	assert.Error(t, r.Register(NewDefinition("x", Strategy{Kind: StrategyFactoryMethod})))
	assert.Error(t, r.Register(NewDefinition("x", Instance(1), WithDependsOn(Dependency{}))))
	assert.Zero(t, r.Len())
}
