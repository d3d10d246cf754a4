// Package builtin holds the agents and plugins that ship with IGED.
// Importing it registers every implementation with agent.Default.
package builtin

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/iged-project/iged/internal/agent"
)

// Agent entry names.
const (
	EntryCodegen        = "codegen_agent"
	EntrySecOps         = "secops"
	EntryNetwork        = "network_intelligence"
	EntryDataMiner      = "data_miner"
	EntryRemoteControl  = "remote_control"
	EntryAdvancedSecOps = "advanced_secops"

	EntryHelloWorld = "hello_world"
	EntrySystemInfo = "system_info"
)

// Descriptions are used when scaffolding manifests.
var Descriptions = map[string]string{
	EntryCodegen:        "Generates web, API and script project scaffolds",
	EntrySecOps:         "TCP connect checks against a target host",
	EntryNetwork:        "DNS resolution and local interface inventory",
	EntryDataMiner:      "Summary statistics for CSV and JSON files",
	EntryRemoteControl:  "Runs allow-listed local commands",
	EntryAdvancedSecOps: "Advisory security review checklist",
	EntryHelloWorld:     "Sample plugin that greets its input",
	EntrySystemInfo:     "Host and runtime information",
}

func init() {
	agent.RegisterAgent(EntryCodegen, newCodegen)
	agent.RegisterAgent(EntrySecOps, newSecOps)
	agent.RegisterAgent(EntryNetwork, newNetwork)
	agent.RegisterAgent(EntryDataMiner, newDataMiner)
	agent.RegisterAgent(EntryRemoteControl, newRemoteControl)
	agent.RegisterAgent(EntryAdvancedSecOps, newAdvancedSecOps)

	agent.RegisterPlugin(EntryHelloWorld, newHelloWorld)
	agent.RegisterPlugin(EntrySystemInfo, newSystemInfo)
}

// AgentEntries and PluginEntries list the built-ins in a stable order.
var (
	AgentEntries  = []string{EntryCodegen, EntrySecOps, EntryNetwork, EntryDataMiner, EntryRemoteControl, EntryAdvancedSecOps}
	PluginEntries = []string{EntryHelloWorld, EntrySystemInfo}
)

func stringParam(req agent.Request, key string) string {
	if v, ok := req.Parameters[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intParam(req agent.Request, key string) (int, bool) {
	switch v := req.Parameters[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// hostOf picks a host from the request: explicit ip/hostname parameters
// first, then the target (which may be a URL).
func hostOf(req agent.Request) (string, error) {
	for _, cand := range []string{stringParam(req, "ip_address"), stringParam(req, "url"), req.Target, stringParam(req, "hostname")} {
		if cand == "" {
			continue
		}
		if strings.Contains(cand, "://") {
			u, err := url.Parse(cand)
			if err != nil || u.Hostname() == "" {
				continue
			}
			return u.Hostname(), nil
		}
		if h, _, err := net.SplitHostPort(cand); err == nil {
			return h, nil
		}
		return cand, nil
	}
	return "", fmt.Errorf("no target host in request")
}
