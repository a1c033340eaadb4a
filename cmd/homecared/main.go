package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/homecare/internal/daemon"
	"github.com/matheus3301/homecare/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.homecare/config.toml)")
	levelFlag := flag.String("log-level", "info", "minimum log level")
	flag.Parse()

	name, err := profile.Resolve(*profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile:    name,
			ConfigPath: *configFlag,
			LogLevel:   *levelFlag,
		}),
	)

	app.Run()
}
