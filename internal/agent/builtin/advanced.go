package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/iged-project/iged/internal/agent"
)

// advancedSecOps produces a review checklist. It performs no network or
// host actions of its own.
type advancedSecOps struct{}

func newAdvancedSecOps(agent.Env) (agent.Agent, error) { return advancedSecOps{}, nil }

func (advancedSecOps) Name() string { return EntryAdvancedSecOps }

var advisoryChecks = []string{
	"confirm written authorization and scope for the target",
	"inventory exposed services with the secops agent",
	"review patch levels of exposed services against current advisories",
	"check authentication hardening (MFA, key-only SSH, lockout)",
	"review logging and alerting coverage for the target",
}

func (advancedSecOps) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	if err := ctx.Err(); err != nil {
		return agent.Result{}, err
	}
	target := req.Target
	if target == "" {
		target = "unspecified target"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Advisory review for %s:", target)
	for i, c := range advisoryChecks {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, c)
	}
	return agent.Result{
		Success: true,
		Output:  b.String(),
		Data:    map[string]any{"target": target, "checks": advisoryChecks, "mode": "advisory"},
	}, nil
}
