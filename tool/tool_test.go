package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FunctionTool
// =============================================================================

func TestFunctionToolCall(t *testing.T) {
	ft := NewFunctionTool(
		"echo",
		"echoes its input",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []string{"message"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return args["message"], nil
		},
	)

	result, err := ft.Call(context.Background(), map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestFunctionToolMissingRequired(t *testing.T) {
	ft := NewFunctionTool(
		"echo",
		"echoes its input",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []string{"message"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return args["message"], nil
		},
	)

	_, err := ft.Call(context.Background(), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, "echo", toolErr.Tool)
}

func TestFunctionToolRejectsUnknownField(t *testing.T) {
	ft := NewFunctionTool(
		"echo",
		"echoes its input",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []string{"message"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return args["message"], nil
		},
	)

	_, err := ft.Call(context.Background(), map[string]any{
		"message": "hi",
		"extra":   42,
	})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestFunctionToolWrapsExecutionError(t *testing.T) {
	boom := errors.New("upstream down")
	ft := NewFunctionTool(
		"fails",
		"always fails",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, boom
		},
	)

	_, err := ft.Call(context.Background(), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Contains(t, toolErr.Message, "upstream down")
}

func TestFunctionToolForwardsToolError(t *testing.T) {
	original := NewToolError("inner", "rate limited", CodeExecution)
	ft := NewFunctionTool(
		"fails",
		"always fails",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, original
		},
	)

	_, err := ft.Call(context.Background(), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Same(t, original, toolErr)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	ft := NewFunctionTool("a_tool", "does a", map[string]any{"type": "object"}, nil)

	require.NoError(t, reg.Register(ft))

	got, ok := reg.Get("a_tool")
	assert.True(t, ok)
	assert.Equal(t, "a_tool", got.Name())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewFunctionTool("dup", "", map[string]any{"type": "object"}, nil)))

	err := reg.Register(NewFunctionTool("dup", "", map[string]any{"type": "object"}, nil))
	assert.Error(t, err)
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		NewFunctionTool("zeta", "", map[string]any{"type": "object"}, nil),
		NewFunctionTool("alpha", "", map[string]any{"type": "object"}, nil),
		NewFunctionTool("mid", "", map[string]any{"type": "object"}, nil),
	)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())

	tools := reg.Tools()
	require.Len(t, tools, 3)
	assert.Equal(t, "alpha", tools[0].Name())
}

// =============================================================================
// CallerContext
// =============================================================================

func TestCallerContextNilSafe(t *testing.T) {
	var cc *CallerContext
	assert.Equal(t, 0, cc.Len())

	_, ok := cc.lookup("anything")
	assert.False(t, ok)
}
