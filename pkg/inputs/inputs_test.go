package inputs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T, prompter Prompter, defs ...Definition) *Resolver {
	t.Helper()
	r, err := NewResolver(defs, &Options{Prompter: prompter})
	require.NoError(t, err)
	return r
}

func TestRenderStringUsesCacheThenDefault(t *testing.T) {
	r := newResolver(t, nil,
		Definition{ID: "token", Type: TypePromptString, Default: "fallback"},
		Definition{ID: "region", Type: TypePickString, Options: []string{"eu", "us"}, Default: "eu"},
	)
	ctx := context.Background()

	out, err := r.RenderString(ctx, "Bearer ${input:token} @ ${input:region}")
	require.NoError(t, err)
	assert.Equal(t, "Bearer fallback @ eu", out)

	require.True(t, r.SetValue("token", "secret"))
	out, err = r.RenderString(ctx, "Bearer ${input:token}")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", out)

	// defaults are not cached
	_, ok := r.Value("region")
	assert.False(t, ok)
}

func TestRenderStringLeavesUnresolvedPlaceholders(t *testing.T) {
	r := newResolver(t, nil, Definition{ID: "empty", Type: TypePromptString})
	out, err := r.RenderString(context.Background(), "${input:missing}-${input:empty}")
	require.NoError(t, err)
	assert.Equal(t, "${input:missing}-${input:empty}", out)

	plain, err := r.RenderString(context.Background(), "no placeholders here")
	require.NoError(t, err)
	assert.Equal(t, "no placeholders here", plain)
}

func TestPrompterAnswerIsCached(t *testing.T) {
	calls := 0
	prompter := PrompterFunc(func(_ context.Context, def Definition) (string, error) {
		calls++
		return "answer-for-" + def.ID, nil
	})
	r := newResolver(t, prompter, Definition{ID: "name", Type: TypePromptString})

	for range 2 {
		out, err := r.RenderString(context.Background(), "${input:name}")
		require.NoError(t, err)
		assert.Equal(t, "answer-for-name", out)
	}
	assert.Equal(t, 1, calls)
	v, ok := r.Value("name")
	require.True(t, ok)
	assert.Equal(t, "answer-for-name", v)
}

func TestPrompterErrorIsRenderError(t *testing.T) {
	prompter := PrompterFunc(func(context.Context, Definition) (string, error) {
		return "", errors.New("cancelled")
	})
	r := newResolver(t, prompter, Definition{ID: "name", Type: TypePromptString})
	out, err := r.RenderString(context.Background(), "x=${input:name}")
	require.ErrorIs(t, err, ErrRender)
	assert.Equal(t, "x=${input:name}", out)
}

func TestPickStringRejectsUnknownAnswer(t *testing.T) {
	prompter := PrompterFunc(func(context.Context, Definition) (string, error) {
		return "mars", nil
	})
	r := newResolver(t, prompter, Definition{ID: "region", Type: TypePickString, Options: []string{"eu", "us"}})
	_, err := r.RenderString(context.Background(), "${input:region}")
	require.ErrorIs(t, err, ErrRender)
	_, ok := r.Value("region")
	assert.False(t, ok)
}

func TestCommandInputRunsOnceAndTrims(t *testing.T) {
	r := newResolver(t, nil, Definition{ID: "sha", Type: TypeCommand, Command: "git", Args: []string{"rev-parse", "HEAD"}})
	runs := 0
	r.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		runs++
		assert.Equal(t, "git", name)
		assert.Equal(t, []string{"rev-parse", "HEAD"}, args)
		return []byte("abc123\n"), nil
	}
	for range 2 {
		out, err := r.RenderString(context.Background(), "rev=${input:sha}")
		require.NoError(t, err)
		assert.Equal(t, "rev=abc123", out)
	}
	assert.Equal(t, 1, runs)

	r.ClearValues()
	r.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 128")
	}
	_, err := r.RenderString(context.Background(), "${input:sha}")
	require.ErrorIs(t, err, ErrRender)
}

func TestRenderWalksNestedValues(t *testing.T) {
	r := newResolver(t, nil, Definition{ID: "v", Type: TypePromptString, Default: "X"})
	in := map[string]any{
		"list":   []any{"a-${input:v}", 3, map[string]any{"deep": "${input:v}"}},
		"env":    map[string]string{"K": "${input:v}"},
		"args":   []string{"--flag=${input:v}"},
		"number": 42,
	}
	out, err := r.Render(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"list":   []any{"a-X", 3, map[string]any{"deep": "X"}},
		"env":    map[string]string{"K": "X"},
		"args":   []string{"--flag=X"},
		"number": 42,
	}, out)
	assert.Equal(t, "${input:v}", in["env"].(map[string]string)["K"], "input must not be mutated")
}

func TestDefinitionAndCacheLifecycles(t *testing.T) {
	r := newResolver(t, nil, Definition{ID: "a", Type: TypePromptString})

	assert.False(t, r.SetValue("nope", "x"))
	require.True(t, r.SetValue("a", "1"))

	// updating the definition keeps the cached value
	require.NoError(t, r.AddOrUpdate(Definition{ID: "a", Type: TypePromptString, Description: "changed"}))
	v, ok := r.Value("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, r.AddOrUpdate(Definition{ID: "b", Type: TypePromptString}))
	ids := []string{}
	for _, def := range r.List() {
		ids = append(ids, def.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	assert.True(t, r.DeleteValue("a"))
	assert.False(t, r.DeleteValue("a"))

	require.True(t, r.SetValue("a", "2"))
	assert.True(t, r.Remove("a"))
	_, ok = r.Value("a")
	assert.False(t, ok, "removing a definition drops its value")
	assert.False(t, r.Remove("a"))

	require.True(t, r.SetValue("b", "keep"))
	require.NoError(t, r.Replace([]Definition{{ID: "c", Type: TypePromptString}}))
	assert.Empty(t, r.Values())
}

func TestValidate(t *testing.T) {
	cases := map[string]Definition{
		"missing id":         {Type: TypePromptString},
		"unknown type":       {ID: "x", Type: "dropdown"},
		"pick without opts":  {ID: "x", Type: TypePickString},
		"pick bad default":   {ID: "x", Type: TypePickString, Options: []string{"a"}, Default: "b"},
		"command no command": {ID: "x", Type: TypeCommand},
	}
	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
		})
	}

	_, err := NewResolver([]Definition{
		{ID: "x", Type: TypePromptString},
		{ID: "x", Type: TypePromptString},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}
