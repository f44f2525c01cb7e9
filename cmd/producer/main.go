package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	_ "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/memhub"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/producer"
	_ "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink/kafka"
	_ "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink/kafkago"
	_ "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink/stdout"
)

func main() {
	opts, err := producer.ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.InitFromEnv(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if opts.PrintConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "print config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("================================================")
	fmt.Println("   Event Hub Producer")
	fmt.Println("================================================")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := producer.Run(ctx, opts, cfg, os.Stdin, os.Stdout); err != nil {
		logging.L().Error("producer", "err", err)
		os.Exit(1)
	}
}
