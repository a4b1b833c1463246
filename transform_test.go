package streamer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestCentral(t).Stream("s")

	var trace []string
	s.Transform(ForAll(func(_ *WriteScope, eventName string, args []any) (any, error) {
		trace = append(trace, fmt.Sprintf("W1(%s,%v)", eventName, args))
		return append(args, "w1"), nil
	}))
	s.Transform(ForEvent("E", func(_ *WriteScope, args ...any) (any, error) {
		trace = append(trace, fmt.Sprintf("S1%v", args))
		return append(args, "s1"), nil
	}))
	s.Transform(ForAll(func(_ *WriteScope, _ string, args []any) (any, error) {
		trace = append(trace, fmt.Sprintf("W2%v", args))
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		// a single value is wrapped into a one element argument list
		return strings.Join(parts, "+"), nil
	}))
	s.Transform(ForEvent("E", func(_ *WriteScope, args ...any) (any, error) {
		trace = append(trace, fmt.Sprintf("S2%v", args))
		return []any{"final", args[len(args)-1]}, nil
	}))
	s.Transform(ForEvent("other", func(*WriteScope, ...any) (any, error) {
		trace = append(trace, "other")
		return nil, nil
	}))

	session := newFakeSession("u")
	s.Subscribe(ctx, session, "E", false)

	var local []any
	s.Listen("E", func(_ context.Context, _ *WriteScope, args ...any) { local = args })

	require.NoError(t, s.Write(ctx, Caller{}, "E", "a"))

	assert.Equal(t, []string{
		"W1(E,[a])",
		"W2[a w1]",
		"S1[a+w1]",
		"S2[a+w1 s1]",
	}, trace)
	assert.Equal(t, []any{"final", "s1"}, local)
	require.Len(t, session.pushes(), 1)
	assert.Equal(t, []any{"final", "s1"}, session.pushes()[0].fields["args"])
}

func TestPipelineScope(t *testing.T) {
	ctx := context.Background()

	t.Run("untransformed writes keep the flag off", func(t *testing.T) {
		s := newTestCentral(t).Stream("s")
		var scope *WriteScope
		s.Listen("E", func(_ context.Context, sc *WriteScope, _ ...any) { scope = sc })
		require.NoError(t, s.Write(ctx, Caller{UserID: "u"}, "E", 1, 2))
		require.NotNil(t, scope)
		assert.False(t, scope.Transformed())
		assert.Equal(t, []any{1, 2}, scope.OriginalParams())
	})

	t.Run("every write gets a fresh scope", func(t *testing.T) {
		s := newTestCentral(t).Stream("s")
		var scopes []*WriteScope
		s.Transform(ForAll(func(sc *WriteScope, _ string, args []any) (any, error) {
			scopes = append(scopes, sc)
			return args, nil
		}))
		require.NoError(t, s.Write(ctx, Caller{}, "E", 1))
		require.NoError(t, s.Write(ctx, Caller{}, "E", 2))
		require.Len(t, scopes, 2)
		assert.NotSame(t, scopes[0], scopes[1])
		assert.Equal(t, []any{1}, scopes[0].OriginalParams())
		assert.Equal(t, []any{2}, scopes[1].OriginalParams())
	})

	t.Run("original params cannot be mutated through the scope", func(t *testing.T) {
		s := newTestCentral(t).Stream("s")
		var scope *WriteScope
		s.Transform(ForAll(func(sc *WriteScope, _ string, args []any) (any, error) {
			scope = sc
			params := sc.OriginalParams()
			params[0] = "mutated"
			return args, nil
		}))
		require.NoError(t, s.Write(ctx, Caller{}, "E", "kept"))
		assert.Equal(t, []any{"kept"}, scope.OriginalParams())
	})
}

func TestRegistration(t *testing.T) {
	wildcard := ForAll(func(*WriteScope, string, []any) (any, error) { return nil, nil })
	assert.True(t, wildcard.IsWildcard())
	assert.Empty(t, wildcard.EventName())
	assert.True(t, wildcard.valid())

	named := ForEvent("E", func(*WriteScope, ...any) (any, error) { return nil, nil })
	assert.False(t, named.IsWildcard())
	assert.Equal(t, "E", named.EventName())
	assert.True(t, named.valid())

	assert.False(t, ForAll(nil).valid())
	assert.False(t, ForEvent("E", nil).valid())
	assert.False(t, Registration{}.valid())

	p := newPipeline()
	assert.False(t, p.register(ForAll(nil)))
	assert.True(t, p.register(wildcard))
	assert.True(t, p.register(named))
	wildcards, events := p.snapshot("E")
	assert.Len(t, wildcards, 1)
	assert.Len(t, events, 1)
	_, others := p.snapshot("other")
	assert.Empty(t, others)
}

func TestAsArgs(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []any
	}{
		{name: "slice", in: []any{1, 2}, want: []any{1, 2}},
		{name: "scalar", in: "x", want: []any{"x"}},
		{name: "nil", in: nil, want: []any{nil}},
		{name: "typed slice", in: []string{"a"}, want: []any{[]string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, asArgs(tt.in))
		})
	}
}
