package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/term"
)

var version = "dev"

// app holds what every command needs once flags are parsed.
type app struct {
	cfg      *Config
	log      Logger
	closeLog func() error
}

func (a *app) setup(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if c.GlobalBool("debug") {
		cfg.Logger.Level = "debug"
	}
	log, closeLog, err := newLogger(cfg.Logger)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.closeLog = cfg, log, closeLog
	return nil
}

// action loads config and logging before running fn. Help and version output
// never touch the config file.
func (a *app) action(fn func(c *cli.Context) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		if err := a.setup(c); err != nil {
			return err
		}
		return fn(c)
	}
}

func (a *app) after(c *cli.Context) error {
	if a.closeLog != nil {
		return a.closeLog()
	}
	return nil
}

func (a *app) client() *Client {
	return NewClient(socketPath(a.cfg), a.log)
}

// commandContext is cancelled by Ctrl+C or once the request had time to
// connect and answer.
func (a *app) commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout())
	return ctx, func() {
		cancel()
		stop()
	}
}

func (a *app) requestTimeout() time.Duration {
	return a.cfg.ConnectTimeout + a.cfg.WriteTimeout + ipcReadTimeout
}

// run executes one shell command against the daemon.
func (a *app) run(args ...string) error {
	ctx, cancel := a.commandContext()
	defer cancel()
	return execute(ctx, a.client(), args, os.Stdout)
}

func (a *app) connect(c *cli.Context) error {
	sel := resolveSelector(a.cfg, c.String("device"), c.String("name"))
	ctx, cancel := a.commandContext()
	defer cancel()

	st, err := a.client().Connect(ctx, sel)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}

func (a *app) ui(c *cli.Context) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("ui needs an interactive terminal")
	}
	sel := resolveSelector(a.cfg, c.String("device"), c.String("name"))

	if !c.Bool("standalone") {
		return runUI(a.client(), sel, a.requestTimeout())
	}
	w, bz, err := newController(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer bz.close()
	defer w.Stop()
	return runUI(w, sel, a.requestTimeout())
}

func (a *app) shell(c *cli.Context) error {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println(`slidectl shell, type "help" for commands`)
	}
	if code := runShell(a.client(), os.Stdin, os.Stdout, os.Stderr, a.requestTimeout()); code != 0 {
		return cli.NewExitError("", code)
	}
	return nil
}

func newApp() *cli.App {
	a := &app{}
	selectorFlags := []cli.Flag{
		cli.StringFlag{Name: "device, d", Usage: "MAC address of the bonded device"},
		cli.StringFlag{Name: "name, n", Usage: "name or alias of the bonded device"},
	}

	cliApp := cli.NewApp()
	cliApp.Name = "slidectl"
	cliApp.Usage = "drive a presentation over a Bluetooth serial link"
	cliApp.Version = version
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: configPath(), Usage: "path to the config file"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
	}
	cliApp.After = a.after
	cliApp.Commands = []cli.Command{
		{
			Name:  "daemon",
			Usage: "own the Bluetooth connection and serve requests on a unix socket",
			Action: a.action(func(c *cli.Context) error {
				return runDaemon(a.cfg, a.log)
			}),
		},
		{
			Name:   "connect",
			Usage:  "connect to a bonded device",
			Flags:  selectorFlags,
			Action: a.action(a.connect),
		},
		{
			Name:  "disconnect",
			Usage: "close the connection",
			Action: a.action(func(c *cli.Context) error {
				return a.run("disconnect")
			}),
		},
		{
			Name:      "send",
			Usage:     "send a command token",
			ArgsUsage: "LEFT|RIGHT",
			Action: a.action(func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("usage: slidectl send LEFT|RIGHT")
				}
				return a.run("send", c.Args().First())
			}),
		},
		{
			Name:  "left",
			Usage: "previous slide",
			Action: a.action(func(c *cli.Context) error {
				return a.run("left")
			}),
		},
		{
			Name:  "right",
			Usage: "next slide",
			Action: a.action(func(c *cli.Context) error {
				return a.run("right")
			}),
		},
		{
			Name:  "status",
			Usage: "show the connection state",
			Action: a.action(func(c *cli.Context) error {
				return a.run("status")
			}),
		},
		{
			Name:  "devices",
			Usage: "list bonded devices",
			Action: a.action(func(c *cli.Context) error {
				return a.run("devices")
			}),
		},
		{
			Name:   "shell",
			Usage:  "read commands from stdin",
			Action: a.action(a.shell),
		},
		{
			Name:  "ui",
			Usage: "open the terminal remote",
			Flags: append([]cli.Flag{
				cli.BoolFlag{Name: "standalone", Usage: "talk to Bluetooth directly instead of the daemon"},
			}, selectorFlags...),
			Action: a.action(a.ui),
		},
	}
	return cliApp
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		if exit, ok := err.(cli.ExitCoder); ok {
			os.Exit(exit.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
