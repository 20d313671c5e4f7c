// Package main provides a CLI for inspecting and maintaining document
// history databases: integrity checks, replay, export and import.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	historycmd "github.com/teacurran/WireTuner-sub012/internal/cmd/history"
)

func main() {
	cfg, args, err := historycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[HISTORY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := historycmd.Run(ctx, cfg, args, os.Stdout); err != nil {
		log.Fatalf("history: %v", err)
	}
}
