// mirrorctl is a command-line client for the relay: account setup, a frame
// viewer that logs what it receives, and one-shot input events.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"register": {"create an account", runRegister},
	"login":    {"print an access token", runLogin},
	"view":     {"connect as a viewer and log incoming frames", runView},
	"tap":      {"send a tap to the capture device", runInput},
	"swipe":    {"send a swipe to the capture device", runInput},
	"type":     {"send text to the capture device", runInput},
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	if args[0] == "tap" || args[0] == "swipe" || args[0] == "type" {
		return cmd.run(ctx, args)
	}
	return cmd.run(ctx, args[1:])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: mirrorctl <command> [flags]")
	fmt.Fprintln(os.Stderr)

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(os.Stderr, "\nServer and token default to $MIRROR_SERVER and $MIRROR_TOKEN.")
}

// connectionFlags are shared by every command that talks to the server.
type connectionFlags struct {
	server string
	token  string
}

func (f *connectionFlags) addFlags(fs *pflag.FlagSet, withToken bool) {
	server := os.Getenv("MIRROR_SERVER")
	if server == "" {
		server = "http://localhost:3001"
	}
	fs.StringVarP(&f.server, "server", "s", server, "relay server base URL")
	if withToken {
		fs.StringVarP(&f.token, "token", "t", os.Getenv("MIRROR_TOKEN"), "access token from 'mirrorctl login'")
	}
}

func (f *connectionFlags) requireToken() error {
	if f.token == "" {
		return errors.New("no access token: pass --token or set MIRROR_TOKEN")
	}
	return nil
}
