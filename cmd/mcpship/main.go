package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	serviceName := flag.String("service", "", "Service name (overrides config)")
	image := flag.String("image", "", "Local image to deploy (overrides config)")
	destroy := flag.Bool("destroy", false, "Tear the service down instead of deploying")
	endpointOnly := flag.Bool("endpoint", false, "Print the client config for a deployed service")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("mcpship %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitValidation
	}
	if *serviceName != "" {
		cfg.Deploy.ServiceName = *serviceName
	}
	if *image != "" {
		cfg.Deploy.Image = *image
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting mcpship",
		"version", Version,
		"provider", cfg.Cloud.Provider,
		"service", cfg.Deploy.ServiceName,
	)

	ctx := context.Background()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize provider", "error", err)
		return exitCodeFor(err)
	}

	switch {
	case *destroy:
		err = app.Destroy(ctx)
	case *endpointOnly:
		err = app.Endpoint(ctx)
	default:
		err = app.Deploy(ctx)
	}
	if err != nil {
		logger.Error("operation failed", "error", err)
		return exitCodeFor(err)
	}

	return ExitSuccess
}
