// Command pointsbot watches bank mailboxes for purchase confirmations and
// lets users classify them and manage their card points from Telegram.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ArionMiles/pointsbot/internal/plugins"
	"github.com/ArionMiles/pointsbot/pkg/logging"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: pointsbot <command>

Commands:
  run      Start the bot, the mail poller and the scheduler (default)
  status   Check configuration, rules, database and Telegram access
  help     Show this message

Mail sources (MAIL_SOURCE):
%s
Configuration is read from .env, %s (or POINTSBOT_CONFIG) and the environment.
`, describeSources(plugins.Default()), "config.json")
}

func describeSources(registry *plugins.Registry) string {
	var b strings.Builder
	for _, p := range registry.List() {
		fmt.Fprintf(&b, "  %-8s %s\n", p.Name(), p.Description())
	}
	return b.String()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	logger, closer := logging.Setup(logging.DefaultConfig())
	defer closer.Close()

	var err error
	switch command {
	case "run":
		err = runPointsbot(logger)
	case "status":
		err = runStatus()
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("pointsbot failed", "command", command, "error", err)
		closer.Close()
		os.Exit(1)
	}
}
