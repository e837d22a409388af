// Package sandbox implements the gateway's sandbox policy (C3): a pure
// transformation from a template plus gateway configuration into an
// enforced template shape, with a trail of machine-readable reasons.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

// Profile is the gateway-wide sandbox posture.
type Profile string

const (
	ProfileLockedDown Profile = "locked-down"
	ProfileStandard   Profile = "standard"
)

// defaultHardenedImage is stamped onto any template forced into container
// quarantine that did not already request a container image.
const defaultHardenedImage = "mcp-gateway/sandbox-runtime:hardened"

// commonCapabilityDrops are dropped from any locked-down container.
var commonCapabilityDrops = []string{"ALL"}

// GatewayConfig is the subset of gateway configuration the policy consults.
type GatewayConfig struct {
	Profile Profile
	// RequiredForUntrusted forces container quarantine for any template
	// whose security.trustLevel is "untrusted", even outside locked-down
	// profile.
	RequiredForUntrusted bool
	// AllowedVolumeRoots is the allow-list container.volumes[].hostPath
	// must fall under once quarantine is forced.
	AllowedVolumeRoots []string
	// EnvSafePrefixes: env keys not matching one of these are stripped
	// unless AllowDangerousEnvOverride is set.
	EnvSafePrefixes           []string
	AllowDangerousEnvOverride bool
	DefaultNetwork            registry.NetworkPolicy
	// RepoRoot anchors the portable package root for node-ecosystem
	// commands: <RepoRoot>/../mcp-sandbox/packages/@modelcontextprotocol.
	RepoRoot string
}

// Result is the outcome of applying the sandbox policy to one template.
// ReadonlyRootfs/CapDrop are enforcement details the template shape itself
// has no field for. The runtime.ContainerSpec built by the app package's
// containerSpecFor does not read them: it sets a read-only rootfs and drops
// ALL capabilities for every containerized instance.
type Result struct {
	Template       registry.Template
	Applied        bool
	Reasons        []string
	ReadonlyRootfs bool
	CapDrop        []string
}

// ErrDisallowedVolume is returned when a forced-quarantine template
// requests a hostPath outside every allowed root; no instance is created.
var ErrDisallowedVolume = fmt.Errorf("sandbox: volume hostPath not under any allowed root")

// Apply is a pure function: (template, gatewayConfig) -> (enforced template,
// applied, reasons). It never mutates t; it returns a modified copy.
func Apply(t registry.Template, cfg GatewayConfig) (Result, error) {
	out := t
	if out.Env == nil {
		out.Env = map[string]string{}
	} else {
		env := make(map[string]string, len(out.Env))
		for k, v := range out.Env {
			env[k] = v
		}
		out.Env = env
	}
	if out.Container != nil {
		c := *out.Container
		c.Volumes = append([]registry.Volume(nil), out.Container.Volumes...)
		out.Container = &c
	}

	var reasons []string
	applied := false
	readonlyRootfs := false
	var capDrop []string

	untrusted := out.Security != nil && out.Security.TrustLevel == registry.TrustUntrusted
	forceQuarantine := cfg.Profile == ProfileLockedDown || (cfg.RequiredForUntrusted && untrusted)

	if forceQuarantine {
		if cfg.Profile == ProfileLockedDown {
			reasons = append(reasons, "sandbox.profile=locked-down")
		}
		if untrusted {
			reasons = append(reasons, "trustLevel=untrusted")
		}

		out.Env["SANDBOX"] = "container"
		if out.Container == nil {
			out.Container = &registry.ContainerConfig{}
		}
		if out.Container.Image == "" {
			out.Container.Image = defaultHardenedImage
		}
		if out.Security == nil {
			out.Security = &registry.SecurityConfig{}
		}
		sec := *out.Security
		sec.NetworkPolicy = registry.NetworkNone
		out.Security = &sec

		for _, v := range out.Container.Volumes {
			if !underAllowedRoot(v.HostPath, cfg.AllowedVolumeRoots) {
				return Result{}, fmt.Errorf("%w: %s", ErrDisallowedVolume, v.HostPath)
			}
		}

		readonlyRootfs = true
		capDrop = append([]string(nil), commonCapabilityDrops...)
		applied = true
	} else if isNodeEcosystemCommand(out.Command, out.Args) {
		out.Env["SANDBOX"] = "portable"
		out.Env["npm_config_offline"] = "true"
		out.WorkingDirectory = portableRoot(cfg.RepoRoot)
		reasons = append(reasons, "sandbox.portable.auto")
		applied = true
	}

	filterEnv(out.Env, cfg.EnvSafePrefixes, cfg.AllowDangerousEnvOverride)

	if !forceQuarantine {
		networkPolicy := cfg.DefaultNetwork
		if out.Security != nil && out.Security.NetworkPolicy != "" && out.Security.NetworkPolicy != registry.NetworkInherit {
			networkPolicy = out.Security.NetworkPolicy
		}
		if out.Security == nil {
			out.Security = &registry.SecurityConfig{}
		}
		sec := *out.Security
		sec.NetworkPolicy = networkPolicy
		out.Security = &sec
	}

	return Result{
		Template:       out,
		Applied:        applied,
		Reasons:        reasons,
		ReadonlyRootfs: readonlyRootfs,
		CapDrop:        capDrop,
	}, nil
}

func underAllowedRoot(hostPath string, roots []string) bool {
	clean := filepath.Clean(hostPath)
	for _, root := range roots {
		if clean == filepath.Clean(root) || strings.HasPrefix(clean, filepath.Clean(root)+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func filterEnv(env map[string]string, safePrefixes []string, allowDangerous bool) {
	if allowDangerous || len(safePrefixes) == 0 {
		return
	}
	for k := range env {
		if !hasAnyPrefix(k, safePrefixes) {
			delete(env, k)
		}
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// isNodeEcosystemCommand reports whether a template's command is `npm exec`
// or points at a node-ecosystem script.
func isNodeEcosystemCommand(command string, args []string) bool {
	base := filepath.Base(command)
	if base == "npm" && len(args) > 0 && args[0] == "exec" {
		return true
	}
	if base == "npx" {
		return true
	}
	if base == "node" {
		return true
	}
	for _, a := range args {
		if strings.HasSuffix(a, ".mjs") || strings.HasSuffix(a, ".cjs") {
			return true
		}
	}
	return false
}

func portableRoot(repoRoot string) string {
	return filepath.Join(repoRoot, "..", "mcp-sandbox", "packages", "@modelcontextprotocol")
}
