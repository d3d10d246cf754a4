package builtin

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/iged-project/iged/internal/agent"
)

type resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type network struct {
	resolver   resolver
	interfaces func() ([]net.Interface, error)
}

func newNetwork(agent.Env) (agent.Agent, error) {
	return &network{resolver: net.DefaultResolver, interfaces: net.Interfaces}, nil
}

func (n *network) Name() string { return EntryNetwork }

func (n *network) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	data := map[string]any{}
	var lines []string

	if host, err := hostOf(req); err == nil {
		addrs, err := n.resolver.LookupHost(ctx, host)
		if err != nil {
			lines = append(lines, fmt.Sprintf("resolve %s: %v", host, err))
			data["resolve_error"] = err.Error()
		} else {
			lines = append(lines, fmt.Sprintf("%s resolves to %s", host, strings.Join(addrs, ", ")))
			data["addresses"] = addrs
		}
		data["host"] = host
	}

	ifaces, err := n.interfaces()
	if err != nil {
		return agent.Result{}, fmt.Errorf("list interfaces: %w", err)
	}
	var up []map[string]any
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 {
			continue
		}
		entry := map[string]any{"name": ifc.Name, "mtu": ifc.MTU}
		if addrs, err := ifc.Addrs(); err == nil {
			var s []string
			for _, a := range addrs {
				s = append(s, a.String())
			}
			entry["addrs"] = s
		}
		up = append(up, entry)
	}
	data["interfaces"] = up
	lines = append(lines, fmt.Sprintf("%d interfaces up", len(up)))

	_, resolveFailed := data["resolve_error"]
	return agent.Result{
		Success: !resolveFailed,
		Output:  strings.Join(lines, "; "),
		Data:    data,
	}, nil
}
