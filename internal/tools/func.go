package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Func is the implementation signature of a Go-native tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

// CacheTTLProvider is implemented by tools that declare how long their
// results stay valid. The tool cache clamps the value to its allowed range.
type CacheTTLProvider interface {
	CacheTTL() time.Duration
}

// FuncTool adapts a Go function to Eino's tool.InvokableTool interface.
type FuncTool struct {
	info     *schema.ToolInfo
	fn       Func
	cacheTTL time.Duration
}

// NewFuncTool wraps fn as an invokable tool described by info.
func NewFuncTool(info *schema.ToolInfo, fn Func) *FuncTool {
	return &FuncTool{info: info, fn: fn}
}

// WithCacheTTL sets the tool's preferred result TTL.
func (t *FuncTool) WithCacheTTL(ttl time.Duration) *FuncTool {
	t.cacheTTL = ttl
	return t
}

// CacheTTL returns the tool's preferred result TTL; zero means the cache
// default.
func (t *FuncTool) CacheTTL() time.Duration { return t.cacheTTL }

// Info returns the ToolInfo for Eino registration.
func (t *FuncTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.info, nil
}

// InvokableRun decodes the JSON arguments, runs the function, and encodes
// the result.
func (t *FuncTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args := map[string]any{}
	if argumentsInJSON != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return "", fmt.Errorf("tool %s: parse arguments: %w", t.info.Name, err)
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", t.info.Name, err)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("tool %s: marshal result: %w", t.info.Name, err)
	}
	return string(out), nil
}

var _ tool.InvokableTool = (*FuncTool)(nil)
