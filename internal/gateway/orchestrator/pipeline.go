// Package orchestrator implements the pipeline driver (C10): it executes an
// ordered list of template/tool steps against short-lived adapter
// connections it opens and closes itself, independent of the supervisor's
// long-running supervised instances.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/transport"
)

const (
	clientName    = "mcp-gatewayd-orchestrator"
	clientVersion = "1.0.0"
)

var (
	// ErrNoMatchingTemplate is returned when a goal string matches no
	// registered template by keyword.
	ErrNoMatchingTemplate = errors.New("orchestrator: no template matches goal")
	// ErrTemplateNotFound is returned when a step names an unregistered
	// template.
	ErrTemplateNotFound = errors.New("orchestrator: template not found")
	// ErrNoToolsAvailable is returned when a step names no tool and the
	// target template exposes none to default to.
	ErrNoToolsAvailable = errors.New("orchestrator: target has no tools to call")
	// ErrToolNotFound is returned when a step names a tool absent from the
	// target's tools/list response.
	ErrToolNotFound = errors.New("orchestrator: named tool not found")
	// ErrInvalidArguments is returned when a tool call's arguments fail
	// validation against the tool's declared inputSchema.
	ErrInvalidArguments = errors.New("orchestrator: arguments do not match tool input schema")
)

// RunStepOn executes step against adapter, which the caller has already
// connected and run the initialize handshake on (e.g. a supervisor-managed
// live instance): unlike runStep, it neither connects, handshakes, nor
// disconnects the adapter — that lifecycle belongs to whoever owns it.
func (d *Driver) RunStepOn(ctx context.Context, adapter transport.Adapter, step Step) StepResult {
	start := time.Now()
	res := StepResult{Template: step.Template, Tool: step.Tool}

	stepCtx := ctx
	if d.stepBudget > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, d.stepBudget)
		defer cancel()
	}

	tools, err := listTools(stepCtx, adapter)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	tool, err := resolveTool(tools, step.Tool)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	res.Tool = tool.Name

	callResult, err := callTool(stepCtx, adapter, tool, step.Params)
	res.Result = callResult
	res.Err = err
	res.Duration = time.Since(start)
	return res
}

// Step is one unit of pipeline work: call Tool (or the template's first
// tool, if Tool is empty) on Template with Params.
type Step struct {
	Template string
	Tool     string
	Params   map[string]any
}

// Plan is an ordered list of steps to execute.
type Plan struct {
	Steps []Step
}

// AdapterFactory opens a fresh transport adapter for one pipeline step. The
// driver owns the adapter's whole lifecycle: connect, use, disconnect.
type AdapterFactory func(ctx context.Context, tpl registry.Template) (transport.Adapter, error)

// StepResult records the outcome of one executed step.
type StepResult struct {
	Template string
	Tool     string
	Result   *jsonrpc.CallToolResult
	Err      error
	Duration time.Duration
}

// Report is the outcome of a full pipeline run.
type Report struct {
	Steps   []StepResult
	Aborted bool
}

// Driver executes plans against the registry's templates.
type Driver struct {
	reg        *registry.Registry
	newAdapter AdapterFactory

	globalBudget time.Duration
	stepBudget   time.Duration
}

// Option configures a Driver at construction.
type Option func(*Driver)

// WithGlobalBudget bounds the whole pipeline run; zero means no bound.
func WithGlobalBudget(d time.Duration) Option { return func(drv *Driver) { drv.globalBudget = d } }

// WithStepBudget bounds each individual step; zero means no bound.
func WithStepBudget(d time.Duration) Option { return func(drv *Driver) { drv.stepBudget = d } }

// NewDriver creates a Driver that opens adapters via newAdapter.
func NewDriver(reg *registry.Registry, newAdapter AdapterFactory, opts ...Option) *Driver {
	drv := &Driver{reg: reg, newAdapter: newAdapter}
	for _, opt := range opts {
		opt(drv)
	}
	return drv
}

// DerivePlan builds a single-step plan from a free-form goal by matching it
// against registered template names: the first template whose name appears
// in goal, or whose name contains a word from goal, becomes the lone step.
func DerivePlan(goal string, templates []registry.Template) (Plan, error) {
	needle := strings.ToLower(goal)
	for _, tpl := range templates {
		name := strings.ToLower(tpl.Name)
		if name != "" && strings.Contains(needle, name) {
			return Plan{Steps: []Step{{Template: tpl.Name}}}, nil
		}
	}
	for _, word := range strings.Fields(needle) {
		for _, tpl := range templates {
			name := strings.ToLower(tpl.Name)
			if name != "" && strings.Contains(name, word) {
				return Plan{Steps: []Step{{Template: tpl.Name}}}, nil
			}
		}
	}
	return Plan{}, ErrNoMatchingTemplate
}

// Run executes plan's steps in order. A failed step aborts the remaining
// steps; the partial Report (including the failing step's result) is still
// returned alongside the error.
func (d *Driver) Run(ctx context.Context, plan Plan) (*Report, error) {
	if d.globalBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.globalBudget)
		defer cancel()
	}

	report := &Report{Steps: make([]StepResult, 0, len(plan.Steps))}
	for _, step := range plan.Steps {
		res := d.runStep(ctx, step)
		report.Steps = append(report.Steps, res)
		if res.Err != nil {
			report.Aborted = true
			return report, fmt.Errorf("orchestrator: step %s/%s: %w", step.Template, step.Tool, res.Err)
		}
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			return report, fmt.Errorf("orchestrator: pipeline budget exceeded: %w", err)
		}
	}
	return report, nil
}

// ListTools opens a short-lived adapter for templateName, fetches its
// tools/list, and closes the adapter. Used by the admin surface's GET
// /tools endpoint, which needs a tool catalog without running a full step.
func (d *Driver) ListTools(ctx context.Context, templateName string) ([]jsonrpc.Tool, error) {
	tpl, err := d.reg.GetTemplate(templateName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateName)
	}

	stepCtx := ctx
	if d.stepBudget > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, d.stepBudget)
		defer cancel()
	}

	adapter, err := d.newAdapter(stepCtx, tpl)
	if err != nil {
		return nil, fmt.Errorf("open adapter: %w", err)
	}
	defer func() {
		if err := adapter.Disconnect(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("orchestrator: disconnect list-tools adapter", "template", templateName, "err", err)
		}
	}()

	if err := adapter.Connect(stepCtx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := initializeAdapter(stepCtx, adapter); err != nil {
		return nil, err
	}
	return listTools(stepCtx, adapter)
}

func (d *Driver) runStep(ctx context.Context, step Step) StepResult {
	start := time.Now()
	res := StepResult{Template: step.Template, Tool: step.Tool}

	tpl, err := d.reg.GetTemplate(step.Template)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s", ErrTemplateNotFound, step.Template)
		res.Duration = time.Since(start)
		return res
	}

	stepCtx := ctx
	if d.stepBudget > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, d.stepBudget)
		defer cancel()
	}

	adapter, err := d.newAdapter(stepCtx, tpl)
	if err != nil {
		res.Err = fmt.Errorf("open adapter: %w", err)
		res.Duration = time.Since(start)
		return res
	}
	defer func() {
		if err := adapter.Disconnect(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("orchestrator: disconnect step adapter", "template", step.Template, "err", err)
		}
	}()

	if err := adapter.Connect(stepCtx); err != nil {
		res.Err = fmt.Errorf("connect: %w", err)
		res.Duration = time.Since(start)
		return res
	}
	if err := initializeAdapter(stepCtx, adapter); err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	tools, err := listTools(stepCtx, adapter)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	tool, err := resolveTool(tools, step.Tool)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	res.Tool = tool.Name

	callResult, err := callTool(stepCtx, adapter, tool, step.Params)
	res.Result = callResult
	res.Err = err
	res.Duration = time.Since(start)
	return res
}

func initializeAdapter(ctx context.Context, adapter transport.Adapter) error {
	params := jsonrpc.InitializeParams{
		ProtocolVersion: jsonrpc.SupportedProtocolVersions[0],
		ClientInfo:      jsonrpc.ClientInfo{Name: clientName, Version: clientVersion},
	}
	req, err := jsonrpc.NewRequest(nil, "initialize", params)
	if err != nil {
		return fmt.Errorf("build initialize request: %w", err)
	}
	resp, err := adapter.SendAndReceive(ctx, req)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize returned error: %s", resp.Error.Error())
	}

	notif, err := jsonrpc.NewNotification("initialized", nil)
	if err != nil {
		return fmt.Errorf("build initialized notification: %w", err)
	}
	return adapter.Send(ctx, notif)
}

// listTools fetches tools/list once per step; its result is reused both to
// validate a named tool and to pick a default when none was specified, so
// a step never issues tools/list more than once.
func listTools(ctx context.Context, adapter transport.Adapter) ([]jsonrpc.Tool, error) {
	req, err := jsonrpc.NewRequest(nil, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("build tools/list request: %w", err)
	}
	resp, err := adapter.SendAndReceive(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list returned error: %s", resp.Error.Error())
	}
	var result jsonrpc.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// resolveTool picks want from tools if named, or tools[0] if want is empty.
func resolveTool(tools []jsonrpc.Tool, want string) (jsonrpc.Tool, error) {
	if len(tools) == 0 {
		return jsonrpc.Tool{}, ErrNoToolsAvailable
	}
	if want == "" {
		return tools[0], nil
	}
	for _, t := range tools {
		if t.Name == want {
			return t, nil
		}
	}
	return jsonrpc.Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, want)
}

func callTool(ctx context.Context, adapter transport.Adapter, tool jsonrpc.Tool, params map[string]any) (*jsonrpc.CallToolResult, error) {
	if err := validateArguments(tool, params); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	callParams := jsonrpc.CallToolParams{Name: tool.Name, Arguments: params}
	req, err := jsonrpc.NewRequest(nil, "tools/call", callParams)
	if err != nil {
		return nil, fmt.Errorf("build tools/call request: %w", err)
	}
	resp, err := adapter.SendAndReceive(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tools/call: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/call returned error: %s", resp.Error.Error())
	}
	var result jsonrpc.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &result, nil
}
