// Package registry owns the templates and instances tables: the canonical,
// mutually-referential state the rest of the gateway reads by id rather than
// by pointer (per the "arena + handles, never back-pointers" design note).
package registry

import (
	"fmt"
	"time"
)

// Transport identifies which adapter carries a template's traffic.
type Transport string

const (
	TransportStdio     Transport = "stdio"
	TransportHTTP      Transport = "http"
	TransportHTTPSSE   Transport = "http+sse"
)

// TrustLevel classifies how much a template's origin is trusted.
type TrustLevel string

const (
	TrustTrusted   TrustLevel = "trusted"
	TrustUntrusted TrustLevel = "untrusted"
)

// NetworkPolicy controls container network attachment.
type NetworkPolicy string

const (
	NetworkInherit NetworkPolicy = "inherit"
	NetworkNone    NetworkPolicy = "none"
	NetworkBridge  NetworkPolicy = "bridge"
)

// Volume is a container bind-mount request as authored on a template,
// before the sandbox policy has validated it against allowed roots.
type Volume struct {
	HostPath      string `json:"hostPath" yaml:"hostPath"`
	ContainerPath string `json:"containerPath" yaml:"containerPath"`
	ReadOnly      bool   `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// ContainerConfig is the template's requested container shape.
type ContainerConfig struct {
	Image   string   `json:"image,omitempty" yaml:"image,omitempty"`
	Volumes []Volume `json:"volumes,omitempty" yaml:"volumes,omitempty"`
}

// SecurityConfig is the template's requested trust/network posture.
type SecurityConfig struct {
	TrustLevel    TrustLevel    `json:"trustLevel,omitempty" yaml:"trustLevel,omitempty"`
	NetworkPolicy NetworkPolicy `json:"networkPolicy,omitempty" yaml:"networkPolicy,omitempty"`
}

// HealthCheckConfig overrides the checker's defaults for one template.
type HealthCheckConfig struct {
	IntervalMs int `json:"intervalMs,omitempty" yaml:"intervalMs,omitempty"`
	TimeoutMs  int `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

// RoutingProfile declares the capability facts the router's cost-optimized
// and content-aware strategies score against. Zero value means "unknown" and
// the router falls back to its documented defaults (§4.6).
type RoutingProfile struct {
	CostPerRequest        float64  `json:"costPerRequest,omitempty" yaml:"costPerRequest,omitempty"`
	SupportedContentTypes []string `json:"supportedContentTypes,omitempty" yaml:"supportedContentTypes,omitempty"`
	SpecializedMethods    []string `json:"specializedMethods,omitempty" yaml:"specializedMethods,omitempty"`
	MaxContentLength      int64    `json:"maxContentLength,omitempty" yaml:"maxContentLength,omitempty"`
}

// Template is immutable once registered; name is unique across the registry.
// yaml tags mirror the json ones so the admin surface's YAML template import
// accepts the same field names as the JSON create route.
type Template struct {
	Name             string             `json:"name" yaml:"name"`
	Version          string             `json:"version" yaml:"version"`
	Transport        Transport          `json:"transport" yaml:"transport"`
	Command          string             `json:"command,omitempty" yaml:"command,omitempty"`
	Args             []string           `json:"args,omitempty" yaml:"args,omitempty"`
	Env              map[string]string  `json:"env,omitempty" yaml:"env,omitempty"`
	WorkingDirectory string             `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty"`
	Timeout          time.Duration      `json:"timeout" yaml:"timeout"`
	Retries          int                `json:"retries" yaml:"retries"`
	Container        *ContainerConfig   `json:"container,omitempty" yaml:"container,omitempty"`
	Security         *SecurityConfig    `json:"security,omitempty" yaml:"security,omitempty"`
	HealthCheck      *HealthCheckConfig `json:"healthCheck,omitempty" yaml:"healthCheck,omitempty"`
	Routing          *RoutingProfile    `json:"routing,omitempty" yaml:"routing,omitempty"`
}

// Validate checks the fields required to register a Template.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("registry: template name is required")
	}
	switch t.Transport {
	case TransportStdio, TransportHTTP, TransportHTTPSSE:
	default:
		return fmt.Errorf("registry: template %q: unsupported transport %q", t.Name, t.Transport)
	}
	if t.Transport == TransportStdio && t.Command == "" {
		return fmt.Errorf("registry: template %q: stdio transport requires command", t.Name)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("registry: template %q: timeout must be positive", t.Name)
	}
	return nil
}
