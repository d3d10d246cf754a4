package builtin

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iged-project/iged/internal/agent"
)

const maxConcurrentDials = 16

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// secops performs TCP connect checks. It never sends payloads.
type secops struct {
	ports   []int
	timeout time.Duration
	dial    dialFunc
	log     zerolog.Logger
}

func newSecOps(env agent.Env) (agent.Agent, error) {
	cfg := env.Config.SecOps
	timeout := time.Duration(cfg.DialTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	ports := cfg.Ports
	if len(ports) == 0 {
		ports = []int{22, 80, 443}
	}
	d := &net.Dialer{Timeout: timeout}
	return &secops{ports: ports, timeout: timeout, dial: d.DialContext, log: env.Logger}, nil
}

func (s *secops) Name() string { return EntrySecOps }

func (s *secops) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	host, err := hostOf(req)
	if err != nil {
		return agent.Result{Success: false, Output: "secops: " + err.Error()}, nil
	}
	ports := s.ports
	if p, ok := intParam(req, "port"); ok {
		if p < 1 || p > 65535 {
			return agent.Result{Success: false, Output: fmt.Sprintf("secops: invalid port %d", p)}, nil
		}
		ports = []int{p}
	}

	var (
		mu   sync.Mutex
		open []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDials)
	for _, port := range ports {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()
			conn, err := s.dial(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err != nil {
				return nil
			}
			_ = conn.Close()
			mu.Lock()
			open = append(open, port)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return agent.Result{}, err
	}

	sort.Ints(open)
	s.log.Info().Str("host", host).Ints("open", open).Msg("port check finished")
	return agent.Result{
		Success: true,
		Output:  fmt.Sprintf("Checked %d ports on %s: %d open %v", len(ports), host, len(open), open),
		Data: map[string]any{
			"host":          host,
			"ports_checked": len(ports),
			"open_ports":    open,
		},
	}, nil
}
