package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/transport"
)

// runHandshake performs the MCP startup sequence on a freshly-connected
// adapter: initialize with the highest negotiated version, then both
// "initialized" and "notifications/initialized" for tolerance of historical
// servers, then a verification call. tools/list succeeding or failing with
// "method not found" are both acceptable; any other error is a warning, not
// an abort — a misbehaving backend still gets to run.
func runHandshake(ctx context.Context, adapter transport.Adapter, clientName, clientVersion string) error {
	version := jsonrpc.SupportedProtocolVersions[0]

	initParams := jsonrpc.InitializeParams{
		ProtocolVersion: version,
		ClientInfo:      jsonrpc.ClientInfo{Name: clientName, Version: clientVersion},
	}
	initReq, err := jsonrpc.NewRequest(nil, "initialize", initParams)
	if err != nil {
		return fmt.Errorf("supervisor: build initialize request: %w", err)
	}
	resp, err := adapter.SendAndReceive(ctx, initReq)
	if err != nil {
		return fmt.Errorf("supervisor: initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("supervisor: initialize returned error: %s", resp.Error.Error())
	}

	initializedNotif, err := jsonrpc.NewNotification("initialized", nil)
	if err != nil {
		return fmt.Errorf("supervisor: build initialized notification: %w", err)
	}
	if err := adapter.Send(ctx, initializedNotif); err != nil {
		return fmt.Errorf("supervisor: send initialized: %w", err)
	}

	notifInitialized, err := jsonrpc.NewNotification("notifications/initialized", nil)
	if err != nil {
		return fmt.Errorf("supervisor: build notifications/initialized: %w", err)
	}
	if err := adapter.Send(ctx, notifInitialized); err != nil {
		return fmt.Errorf("supervisor: send notifications/initialized: %w", err)
	}

	verifyReq, err := jsonrpc.NewRequest(nil, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("supervisor: build verification request: %w", err)
	}
	verifyResp, err := adapter.SendAndReceive(ctx, verifyReq)
	if err != nil {
		slog.Warn("supervisor: verification call failed, continuing anyway", "err", err)
		return nil
	}
	if verifyResp.Error != nil && !isMethodNotFound(verifyResp.Error) {
		slog.Warn("supervisor: verification call returned error, continuing anyway",
			"code", verifyResp.Error.Code, "message", verifyResp.Error.Message)
	}
	return nil
}

func isMethodNotFound(e *jsonrpc.ErrorObject) bool {
	const methodNotFoundCode = -32601
	return e.Code == methodNotFoundCode || strings.Contains(strings.ToLower(e.Message), "method not found")
}
