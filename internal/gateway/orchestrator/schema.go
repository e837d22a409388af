package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
)

// validateArguments checks params against tool.InputSchema before dispatch,
// when the tool declares a non-trivial one. A missing or empty-object schema
// accepts any arguments.
func validateArguments(tool jsonrpc.Tool, params map[string]any) error {
	if tool.InputSchema == nil {
		return nil
	}
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("marshal input schema: %w", err)
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("{}")) {
		return nil
	}

	schemaURL := "inputSchema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile input schema: %w", err)
	}

	// Validate operates on decoded-JSON values, not Go structs; round-trip
	// params through JSON the same way the wire arguments arrived.
	argBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var args any
	if err := json.Unmarshal(argBytes, &args); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	return schema.Validate(args)
}
