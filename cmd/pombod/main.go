package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"pombo/internal/config"
	"pombo/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default: ~/.pombo/config.toml)")
	dataDirFlag := flag.String("data-dir", "", "data directory (overrides config)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
