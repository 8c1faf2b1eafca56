package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/rtlink/internal/daemon"
	"github.com/matheus3301/rtlink/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.rtlink/config.toml)")
	urlFlag := flag.String("url", "", "server URL (overrides link.url)")
	offlineFlag := flag.Bool("offline", false, "start without connecting")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile:    name,
			ConfigPath: *configFlag,
			URL:        *urlFlag,
			Offline:    *offlineFlag,
		}),
	)

	app.Run()
}
