package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/orchestrator"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/transport"
)

// fakeAdapter answers initialize, tools/list, and tools/call with canned
// responses; it never touches a real process or network.
type fakeAdapter struct {
	mu        sync.Mutex
	connected bool
	tools     []jsonrpc.Tool
	callErr   bool
	slow      time.Duration
}

func (a *fakeAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *fakeAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *fakeAdapter) Send(ctx context.Context, msg *jsonrpc.Message) error { return nil }

func (a *fakeAdapter) Receive(ctx context.Context) (*jsonrpc.Message, error) {
	return nil, errors.New("fakeAdapter: receive unsupported")
}

func (a *fakeAdapter) SendAndReceive(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if a.slow > 0 {
		select {
		case <-time.After(a.slow):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch msg.Method {
	case "initialize":
		result, _ := json.Marshal(jsonrpc.InitializeResult{ProtocolVersion: jsonrpc.SupportedProtocolVersions[0]})
		return &jsonrpc.Message{ID: msg.ID, Result: result}, nil
	case "tools/list":
		result, _ := json.Marshal(jsonrpc.ListToolsResult{Tools: a.tools})
		return &jsonrpc.Message{ID: msg.ID, Result: result}, nil
	case "tools/call":
		if a.callErr {
			return &jsonrpc.Message{ID: msg.ID, Error: &jsonrpc.ErrorObject{Code: -32000, Message: "boom"}}, nil
		}
		result, _ := json.Marshal(jsonrpc.CallToolResult{Content: []jsonrpc.ContentItem{{Type: "text", Text: "ok"}}})
		return &jsonrpc.Message{ID: msg.ID, Result: result}, nil
	default:
		return &jsonrpc.Message{ID: msg.ID, Result: json.RawMessage(`{}`)}, nil
	}
}

func (a *fakeAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAdapter) HealthCheck(ctx context.Context) error { return nil }

func newTestRegistry(t *testing.T, names ...string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, name := range names {
		if err := reg.RegisterTemplate(registry.Template{Name: name, Transport: registry.TransportStdio, Command: "echo", Timeout: time.Second}); err != nil {
			t.Fatalf("RegisterTemplate(%s): %v", name, err)
		}
	}
	return reg
}

func TestDriver_RunSingleStepCallsNamedTool(t *testing.T) {
	reg := newTestRegistry(t, "fs")
	adapter := &fakeAdapter{tools: []jsonrpc.Tool{{Name: "read"}, {Name: "write"}}}

	drv := orchestrator.NewDriver(reg, func(ctx context.Context, tpl registry.Template) (transport.Adapter, error) {
		return adapter, nil
	})

	report, err := drv.Run(context.Background(), orchestrator.Plan{Steps: []orchestrator.Step{
		{Template: "fs", Tool: "write", Params: map[string]any{"path": "/tmp/x"}},
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Steps) != 1 {
		t.Fatalf("expected 1 step result, got %d", len(report.Steps))
	}
	if report.Steps[0].Tool != "write" {
		t.Fatalf("expected tool write, got %s", report.Steps[0].Tool)
	}
	if report.Steps[0].Result == nil || len(report.Steps[0].Result.Content) == 0 {
		t.Fatal("expected a call result with content")
	}
	if adapter.IsConnected() {
		t.Fatal("expected adapter disconnected after the step completes")
	}
}

func TestDriver_DefaultsToFirstToolWhenUnspecified(t *testing.T) {
	reg := newTestRegistry(t, "fs")
	adapter := &fakeAdapter{tools: []jsonrpc.Tool{{Name: "read"}, {Name: "write"}}}

	drv := orchestrator.NewDriver(reg, func(ctx context.Context, tpl registry.Template) (transport.Adapter, error) {
		return adapter, nil
	})

	report, err := drv.Run(context.Background(), orchestrator.Plan{Steps: []orchestrator.Step{{Template: "fs"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Steps[0].Tool != "read" {
		t.Fatalf("expected default tool read, got %s", report.Steps[0].Tool)
	}
}

func TestDriver_AbortsOnFailedStep(t *testing.T) {
	reg := newTestRegistry(t, "fs", "web")
	adapter := &fakeAdapter{tools: []jsonrpc.Tool{{Name: "read"}}, callErr: true}

	drv := orchestrator.NewDriver(reg, func(ctx context.Context, tpl registry.Template) (transport.Adapter, error) {
		return adapter, nil
	})

	report, err := drv.Run(context.Background(), orchestrator.Plan{Steps: []orchestrator.Step{
		{Template: "fs"},
		{Template: "web"},
	}})
	if err == nil {
		t.Fatal("expected an error from the failing step")
	}
	if !report.Aborted {
		t.Fatal("expected report marked aborted")
	}
	if len(report.Steps) != 1 {
		t.Fatalf("expected pipeline to stop after the first failing step, got %d results", len(report.Steps))
	}
}

func TestDriver_UnknownTemplateErrors(t *testing.T) {
	reg := newTestRegistry(t)
	drv := orchestrator.NewDriver(reg, func(ctx context.Context, tpl registry.Template) (transport.Adapter, error) {
		t.Fatal("adapter factory should not be called for an unknown template")
		return nil, nil
	})

	_, err := drv.Run(context.Background(), orchestrator.Plan{Steps: []orchestrator.Step{{Template: "missing"}}})
	if !errors.Is(err, orchestrator.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestDriver_StepBudgetTimesOut(t *testing.T) {
	reg := newTestRegistry(t, "fs")
	adapter := &fakeAdapter{tools: []jsonrpc.Tool{{Name: "read"}}, slow: 50 * time.Millisecond}

	drv := orchestrator.NewDriver(reg, func(ctx context.Context, tpl registry.Template) (transport.Adapter, error) {
		return adapter, nil
	}, orchestrator.WithStepBudget(5*time.Millisecond))

	_, err := drv.Run(context.Background(), orchestrator.Plan{Steps: []orchestrator.Step{{Template: "fs"}}})
	if err == nil {
		t.Fatal("expected step budget to abort the pipeline")
	}
}

func TestDerivePlan_MatchesTemplateNameByKeyword(t *testing.T) {
	templates := []registry.Template{{Name: "filesystem"}, {Name: "web"}}

	plan, err := orchestrator.DerivePlan("please read from the filesystem", templates)
	if err != nil {
		t.Fatalf("DerivePlan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Template != "filesystem" {
		t.Fatalf("expected single filesystem step, got %+v", plan.Steps)
	}
}

func TestDerivePlan_NoMatchReturnsError(t *testing.T) {
	templates := []registry.Template{{Name: "filesystem"}}
	if _, err := orchestrator.DerivePlan("launch the rocket", templates); !errors.Is(err, orchestrator.ErrNoMatchingTemplate) {
		t.Fatalf("expected ErrNoMatchingTemplate, got %v", err)
	}
}
