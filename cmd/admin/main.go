// Command admin runs one-off maintenance tasks against a deployment.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/therealutkarshpriyadarshi/vision/internal/config"
)

type command struct {
	usage string
	run   func(cfg *config.Config, args []string) error
}

var commands = map[string]command{
	"token":      {"token -user <id> [-email <addr>] [-ttl 24h]", issueToken},
	"device":     {"device -device-id <id> -name <name> [-status ONLINE]", registerDevice},
	"dlq-depth":  {"dlq-depth", dlqDepth},
	"dlq-replay": {"dlq-replay [-limit 100]", dlqReplay},
	"stats":      {"stats [-fresh]", showStatistics},
	"reap":       {"reap", reapOnce},
	"prune":      {"prune -stream <streamId> [-keep 5]", pruneArchives},
}

var errColor = color.New(color.FgRed, color.Bold)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		errColor.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		errColor.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cmd.run(cfg, os.Args[2:]); err != nil {
		errColor.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(os.Stderr, "usage: admin <command> [flags]")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}
