// Command hive is the controller: it sends tasks to the configured workers
// and prints their results.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errTaskFailed) {
			os.Exit(2)
		}
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		printHelp()
		return nil
	}

	switch args[0] {
	case "status":
		return runStatus(args[1:])
	case "send":
		return runSend(args[1:])
	case "ask":
		return runAsk(args[1:])
	case "broadcast":
		return runBroadcast(args[1:])
	case "parallel":
		return runParallel(args[1:])
	case "history":
		return runHistory(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "mcp":
		return runMCP(args[1:])
	case "version":
		fmt.Println(version)
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: hive <command> [options]

Commands:
  status      Show health of every configured worker
  send        Send a task to one worker
  ask         Send a task to the worker chosen by the routing rules
  broadcast   Send the same task to every worker
  parallel    Send different tasks to different workers at once
  history     Show recorded results (journal) or a worker's own history
  watch       Follow live worker events mirrored to NATS
  mcp         Serve the fleet as MCP tools on stdin/stdout
  version     Print the hive version
  help        Show this help message

Every command accepts --config <path>. Without it the first existing file of
~/.claude-hive/config.yaml, ~/.claude-hive/config.yml, ./claude-hive.yaml,
./claude-hive.yml is used.

Examples:
  hive status
  hive send --worker gpu-1 "refactor the parser"
  hive send --worker gpu-1 --new-session --timeout 600 "start over"
  hive ask "fix the failing frontend test"
  hive broadcast "git pull && go test ./..."
  hive parallel gpu-1="write docs" gpu-2="write tests"
  hive history --worker gpu-1 --limit 10
  hive watch --worker gpu-1
`)
}
