// Command meetgraph runs the meeting minutes workflow from the command line.
//
// Usage:
//
//	meetgraph [-config meetgraph.yaml] <command> [flags]
//
// Commands:
//
//	start    transcribe and draft minutes for a recording, stopping at review
//	resume   approve or reject the minutes of a suspended job
//	inspect  show a job's state and pending review
//	cancel   cancel a job
//	recover  continue jobs interrupted by a crash
//	list     list recent jobs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"start", "transcribe and draft minutes for a recording", cmdStart},
	{"resume", "approve or reject the minutes of a suspended job", cmdResume},
	{"inspect", "show a job's state and pending review", cmdInspect},
	{"cancel", "cancel a job", cmdCancel},
	{"recover", "continue jobs interrupted by a crash", cmdRecover},
	{"list", "list recent jobs", cmdList},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("meetgraph", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv("MEETGRAPH_CONFIG"), "path to a YAML config file")
	global.Usage = func() { usage(global, stderr) }
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		usage(global, stderr)
		return flag.ErrHelp
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == rest[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		usage(global, stderr)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	a, err := newApp(ctx, *configPath, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	return cmd.run(ctx, a, rest[1:])
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "Usage: meetgraph [-config file] <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nGlobal flags:\n")
	fs.PrintDefaults()
}
