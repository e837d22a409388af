package app

import (
	"context"
	"fmt"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/runtime"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/supervisor"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/transport"
)

// buildAdapter opens the transport adapter a template's traffic should run
// over. A template carrying a non-nil Container block (forced by the
// sandbox policy, or requested directly) always runs containerized,
// regardless of its declared Transport; otherwise Transport picks between
// stdio, http, and http+sse.
func buildAdapter(rt runtime.Runtime, tpl registry.Template, instanceID string) (transport.Adapter, error) {
	opts := transport.Options{Timeout: tpl.Timeout, Retries: tpl.Retries}

	if tpl.Container != nil {
		if rt == nil {
			return nil, fmt.Errorf("app: template %q requires a container runtime, none configured", tpl.Name)
		}
		spec := containerSpecFor(tpl, instanceID)
		return transport.NewContainer(rt, spec, opts), nil
	}

	switch tpl.Transport {
	case registry.TransportStdio:
		return transport.NewStdio(tpl.Command, tpl.Args, tpl.Env, tpl.WorkingDirectory, opts), nil
	case registry.TransportHTTP:
		// Non-stdio templates have no dedicated URL field; command doubles
		// as the POST endpoint.
		return transport.NewHTTP(tpl.Command, opts), nil
	case registry.TransportHTTPSSE:
		// command is the POST endpoint, args[0] the SSE stream URL.
		sseURL := ""
		if len(tpl.Args) > 0 {
			sseURL = tpl.Args[0]
		}
		return transport.NewSSE(tpl.Command, sseURL, opts, tpl.Timeout), nil
	default:
		return nil, fmt.Errorf("app: template %q: unsupported transport %q", tpl.Name, tpl.Transport)
	}
}

// containerSpecFor translates a sandbox-enforced template into the runtime
// package's ContainerSpec. Readonly rootfs and an all-capabilities drop are
// applied to every containerized instance; the sandbox policy is what
// decides whether a template ends up containerized at all.
func containerSpecFor(tpl registry.Template, instanceID string) runtime.ContainerSpec {
	var volumes []runtime.Volume
	networkMode := "bridge"
	if tpl.Container != nil {
		for _, v := range tpl.Container.Volumes {
			volumes = append(volumes, runtime.Volume{HostPath: v.HostPath, ContainerPath: v.ContainerPath, ReadOnly: v.ReadOnly})
		}
	}
	if tpl.Security != nil && tpl.Security.NetworkPolicy == registry.NetworkNone {
		networkMode = "none"
	}

	image := ""
	if tpl.Container != nil {
		image = tpl.Container.Image
	}

	return runtime.ContainerSpec{
		InstanceID:     instanceID,
		Template:       tpl.Name,
		Image:          image,
		Command:        tpl.Command,
		Args:           tpl.Args,
		Env:            tpl.Env,
		Labels:         map[string]string{"mcp-gateway.template": tpl.Name},
		NetworkName:    runtime.DefaultNetwork,
		NetworkMode:    networkMode,
		ReadonlyRootfs: true,
		Volumes:        volumes,
		CapDrop:        []string{"ALL"},
	}
}

// supervisorAdapterFactory adapts buildAdapter to supervisor.AdapterFactory.
func supervisorAdapterFactory(rt runtime.Runtime) supervisor.AdapterFactory {
	return func(ctx context.Context, tpl registry.Template, instanceID string) (transport.Adapter, error) {
		return buildAdapter(rt, tpl, instanceID)
	}
}

// orchestratorAdapterFactory adapts buildAdapter to orchestrator.AdapterFactory.
// Pipeline steps open short-lived adapters that are not tied to a
// long-running supervised instance, so the instance id is synthesized.
func orchestratorAdapterFactory(rt runtime.Runtime) func(ctx context.Context, tpl registry.Template) (transport.Adapter, error) {
	return func(ctx context.Context, tpl registry.Template) (transport.Adapter, error) {
		return buildAdapter(rt, tpl, "orchestrator:"+tpl.Name)
	}
}
