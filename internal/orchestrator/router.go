package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoRoute is returned when neither the task type nor the command text
// selects a loaded agent. There is no fallback agent.
var ErrNoRoute = errors.New("no route to agent")

// typeRoutes maps exact task types to agent names.
var typeRoutes = map[string]string{
	"codegen":           "codegen_agent",
	"security":          "secops",
	"network":           "network_intelligence",
	"data":              "data_miner",
	"remote":            "remote_control",
	"advanced_security": "advanced_secops",
}

type keywordRoute struct {
	agent    string
	keywords []string
}

// keywordRoutes is scanned in order; the first category with a keyword
// present in the lowercased command wins.
var keywordRoutes = []keywordRoute{
	{"codegen_agent", []string{"code", "generate", "script", "program"}},
	{"secops", []string{"security", "scan", "vulnerability", "exploit"}},
	{"network_intelligence", []string{"network", "ping", "port", "nmap"}},
	{"data_miner", []string{"data", "analyze", "csv", "json"}},
	{"remote_control", []string{"remote", "control", "execute"}},
	{"advanced_secops", []string{"advanced", "forensics", "malware"}},
}

// Route picks the agent for a task type and command. The returned name is
// not checked against the loaded set.
func Route(taskType, command string) (string, error) {
	if agent, ok := typeRoutes[taskType]; ok {
		return agent, nil
	}
	lower := strings.ToLower(command)
	for _, r := range keywordRoutes {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.agent, nil
			}
		}
	}
	return "", fmt.Errorf("%w: type %q", ErrNoRoute, taskType)
}

// TaskTypes lists the task types with a direct route.
func TaskTypes() []string {
	return []string{"codegen", "security", "network", "data", "remote", "advanced_security"}
}
