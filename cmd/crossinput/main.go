// crossinput - keyboard and mouse simulation for X11 and Wayland
//
//	crossinput info                Show the detected input path
//	crossinput key <name>          Press and release a key
//	crossinput click [button]      Click a mouse button
//	crossinput pos                 Print the pointer position
//	crossinput run <script>        Run an automation script
//	crossinput serve               Accept steps over a websocket
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"crossinput/internal/config"
	"crossinput/internal/logging"
	"crossinput/pkg/crossinput"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "info":
		cmdInfo(args)
	case "keys":
		cmdKeys()
	case "key", "keydown", "keyup":
		cmdKey(cmd, args)
	case "pressed":
		cmdPressed(args)
	case "click", "buttondown", "buttonup":
		cmdButton(cmd, args)
	case "pos":
		cmdPos(args)
	case "setpos":
		cmdSetPos(args)
	case "move":
		cmdMove(args)
	case "run":
		cmdRun(args)
	case "serve":
		cmdServe(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`crossinput - Keyboard and mouse simulation for X11 and Wayland

USAGE:
    crossinput <command> [options] [args]

COMMANDS:
    info                    Show platform, backend and portal status
    keys                    List key names
    key <name>              Press and release a key
    keydown <name>          Press a key
    keyup <name>            Release a key
    pressed <name>          Print whether a key is held (X11/XWayland only)
    click [button]          Click left, right or middle (default left)
    buttondown [button]     Press a mouse button
    buttonup [button]       Release a mouse button
    pos                     Print the pointer position (X11/XWayland only)
    setpos <x> <y>          Move the pointer to a position
    move <dx> <dy>          Move the pointer by an offset
    run [-watch] <script>   Run a YAML or JSON script
    serve [-listen addr]    Run the websocket remote control
    config [-init]          Print the effective configuration
    help                    Show this help message

COMMON OPTIONS:
    -config <path>          Config file (default: $XDG_CONFIG_HOME/crossinput/config.toml)
    -backend <mode>         auto, portal or x11
    -v                      Debug logging

On Wayland the first injected event asks the desktop for permission to
control input. Each invocation is a new session and asks again; use "run"
or "serve" to keep one session for many operations.`)
}

// common holds the options every command accepts.
type common struct {
	fs      *flag.FlagSet
	config  *string
	backend *string
	verbose *bool
}

func newFlags(name string) *common {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &common{
		fs:      fs,
		config:  fs.String("config", "", "Path to config file"),
		backend: fs.String("backend", "", "Backend: auto, portal or x11"),
		verbose: fs.Bool("v", false, "Debug logging"),
	}
}

func (c *common) parse(args []string) {
	c.fs.Parse(args)
}

func (c *common) configPath() string {
	if *c.config != "" {
		return *c.config
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

// load reads the configuration and installs the logger it describes.
func (c *common) load() (*config.Loader, *config.Config) {
	loader := config.NewLoader(c.configPath())
	cfg, err := loader.Load()
	if err != nil {
		fatalf("Error loading config: %v", err)
	}
	if *c.backend != "" {
		cfg.Backend.Mode = *c.backend
		if err := cfg.Validate(); err != nil {
			fatalf("Invalid backend: %v", err)
		}
	}
	if *c.verbose {
		cfg.Logging.Level = "debug"
	}
	setupLogging(cfg)
	return loader, cfg
}

// input loads the configuration and opens an Input over it.
func (c *common) input() (*crossinput.Input, *config.Config) {
	_, cfg := c.load()
	in, err := crossinput.New(crossinput.WithConfig(cfg))
	if err != nil {
		fatalf("Error: %v", err)
	}
	return in, cfg
}

func setupLogging(cfg *config.Config) {
	lc, err := cfg.LoggerConfig()
	if err != nil {
		fatalf("Invalid logging config: %v", err)
	}
	logger, err := logging.New(lc)
	if err != nil {
		fatalf("Error opening log output: %v", err)
	}
	logging.SetDefault(logger)
}

func requireArgs(c *common, n int, usage string) {
	if c.fs.NArg() < n {
		fmt.Fprintf(os.Stderr, "Usage: crossinput %s\n", usage)
		os.Exit(1)
	}
}

func atoi(s, what string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		fatalf("Invalid %s: %q", what, s)
	}
	return v
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
