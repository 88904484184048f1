package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/protei/hss/internal/hsscontext"
	"github.com/protei/hss/pkg/config"
)

const appVersion = "1.0.0"

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("hss version %s\n", appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	hssCtx, err := hsscontext.New(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize hss: %v\n", err)
		os.Exit(1)
	}

	if err := hssCtx.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start hss: %v\n", err)
		os.Exit(1)
	}

	hssCtx.WaitForShutdown()

	if err := hssCtx.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		os.Exit(1)
	}
}
