package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/fx"

	"marketchat/internal/config"
	"marketchat/internal/daemon"
	"marketchat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "signed-in user uid (overrides config default_session)")
	flag.Parse()

	uid := session.Resolve(*sessionFlag)
	if uid == "" {
		fmt.Fprintln(os.Stderr, "error: no session uid; pass --session or set default_session in config.toml")
		os.Exit(1)
	}
	if err := session.ValidateUID(uid); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionUID: uid, Config: cfg}),
	)

	app.Run()
}
