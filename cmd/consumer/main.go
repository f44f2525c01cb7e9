package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/engine"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	_ "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/memhub"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/transport"
	_ "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source/kafka"
	_ "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source/kgo"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	probe := flag.String("probe", "", "check readiness of a running consumer at host:port and exit")
	flag.Parse()

	if *probe != "" {
		os.Exit(runProbe(*probe))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.InitFromEnv(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if *printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "print config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		logging.L().Error("bootstrap", "err", err)
		os.Exit(1)
	}
	if err := e.Run(ctx); err != nil {
		logging.L().Error("consumer", "err", err)
		os.Exit(1)
	}
}

// runProbe is meant for exec probes: 0 when serving, 1 otherwise.
func runProbe(target string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := transport.Dial(target)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer c.Close()
	ready, err := c.Ready(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !ready {
		fmt.Println("not serving")
		return 1
	}
	fmt.Println("serving")
	return 0
}
