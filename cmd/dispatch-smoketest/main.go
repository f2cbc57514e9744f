package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stake-plus/mememo/src/cache"
	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/config"
	"github.com/stake-plus/mememo/src/dispatch"
	"github.com/stake-plus/mememo/src/executor"
	"github.com/stake-plus/mememo/src/grants"
)

var (
	configFlag    = flag.String("config", "config.yaml", "Agent configuration file")
	secretsFlag   = flag.String("secrets", "", "Dotenv file with placeholder values")
	principalFlag = flag.String("principal", "smoketest", "Principal the commands run as")
	grantsFlag    = flag.String("grants", "", "Comma-separated grants to issue before running")
	commandsFlag  = flag.String("commands", "thanks", "Semicolon-separated commands to dispatch")
	repeatFlag    = flag.Int("repeat", 2, "Times each command is dispatched (repeats show cache hits)")
	timeoutFlag   = flag.Duration("timeout", 60*time.Second, "Overall timeout")
	maxLenFlag    = flag.Int("max-bytes", 1200, "Maximum bytes of output to print per command (0=unlimited)")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	cfg, err := config.Load(*configFlag, *secretsFlag)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		log.Fatalf("registry: %v", err)
	}

	// Always in memory: a smoke test must not touch the deployed stores.
	c := clock.Real{}
	gs := grants.NewMemoryStore(c)
	cs := cache.NewMemoryStore(c)
	shell := executor.NewShell(cfg.Env, cfg.Secrets)
	shell.Path = cfg.Agent.Shell
	d := dispatch.New(reg, gs, cs, shell, dispatch.Options{
		DefaultTimeout: cfg.Agent.DefaultTimeout.Std(),
		MaxConcurrent:  cfg.Agent.MaxConcurrent,
		Clock:          c,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	for _, g := range splitList(*grantsFlag, ",") {
		if _, err := gs.Issue(ctx, *principalFlag, g, time.Hour); err != nil {
			log.Fatalf("issue %s: %v", g, err)
		}
	}

	failed := 0
	for _, text := range splitList(*commandsFlag, ";") {
		fmt.Printf("=== %s ===\n", text)
		for i := 0; i < max(*repeatFlag, 1); i++ {
			start := time.Now()
			out := d.Dispatch(ctx, dispatch.Request{
				Principal: *principalFlag,
				Text:      text,
				Platform:  map[string]string{"source": "smoketest"},
			})
			mark := "✅"
			if out.Kind != dispatch.Handled {
				mark = "❌"
				failed++
			}
			fmt.Printf("%s %s service=%s cached=%t in %s\n", mark, out.Kind, out.Service, out.Cached, time.Since(start).Round(time.Millisecond))
			fmt.Println(truncate(out.Summary(), *maxLenFlag))
		}
	}
	if failed > 0 {
		log.Fatalf("%d dispatches did not complete", failed)
	}
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
