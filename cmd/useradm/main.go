package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/cosauth/internal/logging"
	"github.com/dmitrijs2005/cosauth/internal/server"
	"github.com/dmitrijs2005/cosauth/internal/server/config"
	"github.com/dmitrijs2005/cosauth/internal/useradm"
)

func main() {

	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "help" {
		useradm.Usage(os.Stderr)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	store, closeFn, err := server.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeFn()

	logger := logging.New(logging.FormatConsole, cfg.LogLevel, os.Stderr)
	dir := server.NewDirectory(cfg, store, logger, nil)

	if err := useradm.NewApp(dir, os.Stdin, os.Stdout).Run(ctx, os.Args[1]); err != nil {
		log.Printf("%v", err)
		closeFn()
		os.Exit(1)
	}

}
