package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/skylattice/orbit/internal/cache"
)

func echoTool(name string) *FuncTool {
	info := &schema.ToolInfo{Name: name, Desc: "echoes its arguments"}
	return NewFuncTool(info, func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"echo": args}, nil
	})
}

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	if err := r.Register(ctx, echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(ctx, echoTool("echo")); err == nil {
		t.Error("duplicate registration should fail")
	}

	result, err := r.Invoke(ctx, "echo", map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result type %T, want map", result)
	}
	if echo, _ := m["echo"].(map[string]any); echo["msg"] != "hi" {
		t.Errorf("unexpected echo: %#v", m)
	}

	if _, err := r.Invoke(ctx, "missing", nil); err == nil {
		t.Error("invoking an unregistered tool should fail")
	}
}

func TestRegistry_Catalog(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	r.Register(ctx, echoTool("zulu"))
	r.Register(ctx, echoTool("alpha"))

	catalog := r.Catalog()
	ai := strings.Index(catalog, "alpha")
	zi := strings.Index(catalog, "zulu")
	if ai < 0 || zi < 0 || ai > zi {
		t.Errorf("catalog should list tools in sorted order:\n%s", catalog)
	}
	if !strings.Contains(catalog, "echoes its arguments") {
		t.Errorf("catalog should carry descriptions:\n%s", catalog)
	}
}

func TestFuncTool_ErrorPropagates(t *testing.T) {
	info := &schema.ToolInfo{Name: "fails"}
	ft := NewFuncTool(info, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := ft.InvokableRun(context.Background(), `{}`)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestCachedTool_ServesFromCache(t *testing.T) {
	calls := 0
	info := &schema.ToolInfo{Name: "counter"}
	inner := NewFuncTool(info, func(context.Context, map[string]any) (any, error) {
		calls++
		return map[string]any{"calls": calls}, nil
	})

	c := cache.NewToolCache(nil)
	ct, err := WithCache(context.Background(), inner, c)
	if err != nil {
		t.Fatalf("WithCache: %v", err)
	}

	first, err := ct.InvokableRun(context.Background(), `{"q":"x"}`)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := ct.InvokableRun(context.Background(), `{"q":"x"}`)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first != second {
		t.Errorf("identical calls should be served from cache: %q vs %q", first, second)
	}
	if calls != 1 {
		t.Errorf("inner tool called %d times, want 1", calls)
	}

	// Different arguments miss.
	ct.InvokableRun(context.Background(), `{"q":"y"}`)
	if calls != 2 {
		t.Errorf("different args should invoke the tool, calls = %d", calls)
	}
}

func TestCachedTool_ClampsTTL(t *testing.T) {
	info := &schema.ToolInfo{Name: "slow"}
	inner := NewFuncTool(info, func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	}).WithCacheTTL(48 * time.Hour)

	ct, err := WithCache(context.Background(), inner, cache.NewToolCache(nil))
	if err != nil {
		t.Fatalf("WithCache: %v", err)
	}
	if ct.ttl != cache.ToolTTLMax {
		t.Errorf("ttl = %s, want clamped to %s", ct.ttl, cache.ToolTTLMax)
	}
}

func TestDatetime(t *testing.T) {
	dt := NewDatetime()
	ctx := context.Background()

	out, err := dt.InvokableRun(ctx, `{"timezone":"UTC"}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	if !strings.Contains(out, `"timezone":"UTC"`) {
		t.Errorf("expected UTC timezone in output: %s", out)
	}

	if _, err := dt.InvokableRun(ctx, `{"timezone":"Not/AZone"}`); err == nil {
		t.Error("invalid timezone should fail")
	}
}
