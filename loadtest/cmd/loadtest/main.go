// Command loadtest drives a running chat relay.
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

type command struct {
	name  string
	usage string
	run   func(args []string)
}

var commands = []command{
	{"saturate", "open and hold N connections, optionally joined", runSaturate},
	{"chat", "join participants, post to a room, measure fan-out", runChat},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	name := os.Args[1]
	for _, cmd := range commands {
		if cmd.name == name {
			cmd.run(os.Args[2:])
			return
		}
	}
	switch name {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	usage(os.Stderr)
	os.Exit(1)
}

func usage(w *os.File) {
	fmt.Fprintln(w, "Usage: loadtest <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Each command accepts -h for its options.")
}
