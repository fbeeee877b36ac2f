package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/shlex"
)

type shellCommand struct {
	help    string
	args    string
	minArgs int
	run     func(ctx context.Context, ctl Controller, args []string, out io.Writer) error
}

var shellCommands = map[string]shellCommand{
	"connect": {
		help: "Connect to a bonded device by address or name",
		args: "[ADDRESS|NAME]",
		run: func(ctx context.Context, ctl Controller, args []string, out io.Writer) error {
			var sel Selector
			if len(args) > 0 {
				if _, err := parseAddress(args[0]); err == nil {
					sel.Address = args[0]
				} else {
					sel.Name = strings.Join(args, " ")
				}
			}
			st, err := ctl.Connect(ctx, sel)
			if err != nil {
				return err
			}
			printStatus(out, st)
			return nil
		},
	},
	"send": {
		help:    "Send LEFT or RIGHT",
		args:    "TOKEN",
		minArgs: 1,
		run: func(ctx context.Context, ctl Controller, args []string, out io.Writer) error {
			cmd, err := ParseCommand(args[0])
			if err != nil {
				return err
			}
			return ctl.Send(ctx, cmd)
		},
	},
	"left":  {help: "Previous slide", run: sendFunc(CommandLeft)},
	"right": {help: "Next slide", run: sendFunc(CommandRight)},
	"status": {
		help: "Show the connection state",
		run: func(ctx context.Context, ctl Controller, _ []string, out io.Writer) error {
			st, err := ctl.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(out, st)
			return nil
		},
	},
	"devices": {
		help: "List bonded devices",
		run: func(ctx context.Context, ctl Controller, _ []string, out io.Writer) error {
			devices, err := ctl.Devices(ctx)
			if err != nil {
				return err
			}
			printDevices(out, devices)
			return nil
		},
	},
	"disconnect": {
		help: "Close the connection",
		run: func(ctx context.Context, ctl Controller, _ []string, _ io.Writer) error {
			return ctl.Disconnect(ctx)
		},
	},
}

func sendFunc(cmd Command) func(context.Context, Controller, []string, io.Writer) error {
	return func(ctx context.Context, ctl Controller, _ []string, _ io.Writer) error {
		return ctl.Send(ctx, cmd)
	}
}

func execute(ctx context.Context, ctl Controller, args []string, out io.Writer) error {
	c, ok := shellCommands[strings.ToLower(args[0])]
	if !ok {
		return fmt.Errorf("unrecognized command: %s", args[0])
	}
	if len(args)-1 < c.minArgs {
		return fmt.Errorf("usage: %s %s", args[0], c.args)
	}
	return c.run(ctx, ctl, args[1:], out)
}

func shellUsage(out io.Writer) {
	names := make([]string, 0, len(shellCommands))
	for name := range shellCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		c := shellCommands[name]
		fmt.Fprintf(tw, "  %s %s\t%s\n", name, c.args, c.help)
	}
	fmt.Fprintf(tw, "  exit\tLeave the shell\n")
	tw.Flush()
}

// runShell reads one command per line until EOF or "exit".
func runShell(ctl Controller, in io.Reader, out, errOut io.Writer, timeout time.Duration) int {
	scanner := bufio.NewScanner(in)
	for fmt.Fprint(out, "> "); scanner.Scan(); fmt.Fprint(out, "> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			fmt.Fprintf(errOut, "invalid command: %s\n", err)
			continue
		}
		if args[0] == "help" {
			shellUsage(out)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := execute(ctx, ctl, args, out); err != nil {
			fmt.Fprintf(errOut, "error: %s\n", err)
		}
		cancel()
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(errOut, "error reading command: %s\n", err)
		return 1
	}
	return 0
}

func printStatus(out io.Writer, st Status) {
	switch {
	case st.Device != nil:
		fmt.Fprintf(out, "%s %s (%s)\n", st.State, st.Device.DisplayName(), st.Device.Address)
	default:
		fmt.Fprintln(out, st.State)
	}
	if st.LastError != "" {
		fmt.Fprintf(out, "last error: %s\n", st.LastError)
	}
}

func printDevices(out io.Writer, devices []Device) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "no bonded devices")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, d := range devices {
		var flags []string
		if d.SupportsSerialPort() {
			flags = append(flags, "spp")
		}
		if d.Connected {
			flags = append(flags, "connected")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Address, d.DisplayName(), strings.Join(flags, ","))
	}
	tw.Flush()
}
