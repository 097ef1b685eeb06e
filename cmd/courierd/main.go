package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/andrefarinha/courier/internal/config"
	"github.com/andrefarinha/courier/internal/daemon"
	"github.com/andrefarinha/courier/internal/paths"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	serverFlag := flag.String("server", "", "websocket server URL (overrides config)")
	identityFlag := flag.String("identity", "", "username this session belongs to (overrides config)")
	flag.Parse()

	sessionName := paths.Resolve(*sessionFlag)
	if err := paths.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	serverURL := *serverFlag
	identity := *identityFlag
	if cfg, err := config.Load(paths.ConfigPath()); err == nil {
		if serverURL == "" {
			serverURL = cfg.ServerURL
		}
		if identity == "" {
			identity = cfg.Identity
		}
	}
	if serverURL == "" {
		serverURL = config.DefaultServerURL
	}
	if identity == "" {
		fmt.Fprintln(os.Stderr, "error: no identity configured (use -identity or set identity in config.toml)")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ServerURL:   serverURL,
			Identity:    identity,
		}),
	)

	app.Run()
}
