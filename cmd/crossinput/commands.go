package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"

	"crossinput/internal/config"
	"crossinput/internal/health"
	"crossinput/internal/logging"
	"crossinput/internal/metrics"
	"crossinput/internal/platform"
	"crossinput/internal/portal"
	"crossinput/internal/remote"
	"crossinput/internal/script"
	"crossinput/pkg/crossinput"
)

func cmdInfo(args []string) {
	c := newFlags("info")
	c.parse(args)
	in, cfg := c.input()
	defer in.Close()

	fmt.Println("=== crossinput ===")
	fmt.Println()
	fmt.Printf("Platform:        %s\n", in.GetPlatformName())
	fmt.Printf("Backend mode:    %s\n", cfg.Backend.Mode)
	fmt.Printf("Mediated input:  %t\n", platform.RequiresMediatedSession(platform.OSEnv))
	fmt.Printf("Direct reads:    %t\n", platform.HasDirectReadChannel(platform.OSEnv))

	if version, ok := portal.Available(); ok {
		fmt.Printf("RemoteDesktop:   available (version %d)\n", version)
	} else {
		fmt.Println("RemoteDesktop:   not available")
	}
	fmt.Printf("Config file:     %s\n", c.configPath())
}

func cmdKeys() {
	names := make([]string, 0, len(crossinput.Keys()))
	for _, k := range crossinput.Keys() {
		names = append(names, k.String())
	}
	fmt.Println(strings.Join(names, " "))
}

func cmdKey(name string, args []string) {
	c := newFlags(name)
	c.parse(args)
	requireArgs(c, 1, name+" <key>")

	k, err := crossinput.ParseKeyCode(c.fs.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	in, _ := c.input()
	defer in.Close()

	switch name {
	case "keydown":
		in.KeyDown(k)
	case "keyup":
		in.KeyUp(k)
	default:
		in.KeyPress(k)
	}
}

func cmdPressed(args []string) {
	c := newFlags("pressed")
	c.parse(args)
	requireArgs(c, 1, "pressed <key>")

	k, err := crossinput.ParseKeyCode(c.fs.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	in, _ := c.input()
	defer in.Close()
	fmt.Println(in.IsKeyPressed(k))
}

func cmdButton(name string, args []string) {
	c := newFlags(name)
	c.parse(args)

	b := crossinput.MouseLeft
	if c.fs.NArg() > 0 {
		var err error
		if b, err = crossinput.ParseMouseButton(c.fs.Arg(0)); err != nil {
			fatalf("%v", err)
		}
	}
	in, _ := c.input()
	defer in.Close()

	switch name {
	case "buttondown":
		in.MouseButtonDown(b)
	case "buttonup":
		in.MouseButtonUp(b)
	default:
		in.MouseClick(b)
	}
}

func cmdPos(args []string) {
	c := newFlags("pos")
	asJSON := c.fs.Bool("json", false, "Print as JSON")
	c.parse(args)

	in, _ := c.input()
	defer in.Close()
	p := in.GetCursorPosition()
	if *asJSON {
		json.NewEncoder(os.Stdout).Encode(p)
		return
	}
	fmt.Printf("%d %d\n", p.X, p.Y)
}

func cmdSetPos(args []string) {
	c := newFlags("setpos")
	c.parse(args)
	requireArgs(c, 2, "setpos <x> <y>")

	p := crossinput.Point{X: atoi(c.fs.Arg(0), "x"), Y: atoi(c.fs.Arg(1), "y")}
	in, _ := c.input()
	defer in.Close()
	in.SetCursorPosition(p)
}

func cmdMove(args []string) {
	c := newFlags("move")
	c.parse(args)
	requireArgs(c, 2, "move <dx> <dy>")

	dx, dy := atoi(c.fs.Arg(0), "dx"), atoi(c.fs.Arg(1), "dy")
	in, _ := c.input()
	defer in.Close()
	in.MoveCursor(dx, dy)
}

func cmdRun(args []string) {
	c := newFlags("run")
	watch := c.fs.Bool("watch", false, "Run the script again whenever it changes")
	c.parse(args)
	requireArgs(c, 1, "run [-watch] <script>")
	path := c.fs.Arg(0)

	loader, cfg := c.load()
	defer loader.Close()
	in, err := crossinput.New(crossinput.WithConfig(cfg))
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer in.Close()

	runner := script.NewRunner(in,
		script.WithStepDelay(cfg.StepDelay()),
		script.WithMaxSteps(cfg.Script.MaxSteps))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*watch {
		s, err := script.Load(path)
		if err != nil {
			fatalf("%v", err)
		}
		results, err := runner.Run(ctx, s)
		printResults(results)
		if err != nil {
			fatalf("%v", err)
		}
		return
	}

	watchConfig(loader)
	log := logging.Default().WithComponent("cli")
	err = script.Watch(ctx, path, func(s *script.Script, err error) {
		if err != nil {
			log.Error("script not run", "error", err)
			return
		}
		results, err := runner.Run(ctx, s)
		printResults(results)
		if err != nil {
			log.Error("script failed", "error", err)
		}
	})
	if err != nil {
		fatalf("%v", err)
	}
}

func cmdServe(args []string) {
	c := newFlags("serve")
	listen := c.fs.String("listen", "", "Listen address (overrides remote.listen)")
	c.parse(args)

	loader, cfg := c.load()
	defer loader.Close()
	if *listen != "" {
		cfg.Remote.Listen = *listen
	}
	m := metrics.NewInput()
	in, err := crossinput.New(crossinput.WithConfig(cfg), crossinput.WithMetrics(m))
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer in.Close()

	checker := health.NewChecker()
	checker.RegisterFunc("portal", true, health.PortalCheck(platform.OSEnv, portal.Available))
	checker.RegisterFunc("display", false, health.DisplayCheck(platform.OSEnv))
	checker.RegisterFunc("session", false, health.SessionCheck(in.SessionState))

	runner := script.NewRunner(in,
		script.WithStepDelay(cfg.StepDelay()),
		script.WithMaxSteps(cfg.Script.MaxSteps))
	srv := remote.NewServer(cfg.Remote, runner, remote.WithHealth(checker), remote.WithMetrics(m))

	watchConfig(loader)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Listening on ws://%s%s (Ctrl-C to stop)\n", cfg.Remote.Listen, cfg.Remote.Path)
	if err := srv.ListenAndServe(ctx); err != nil {
		fatalf("Error: %v", err)
	}
}

func cmdConfig(args []string) {
	c := newFlags("config")
	initFile := c.fs.Bool("init", false, "Write a default config file if none exists")
	c.parse(args)

	path := c.configPath()
	if *initFile {
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			fatalf("Error: %v", err)
		}
		if created {
			fmt.Printf("Created %s\n", path)
		} else {
			fmt.Printf("%s already exists\n", path)
		}
		return
	}

	_, cfg := c.load()
	fmt.Printf("# %s\n", path)
	if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
		fatalf("Error: %v", err)
	}
}

// watchConfig applies log level changes from the config file while a
// long-running command is active. Other settings take effect on restart.
func watchConfig(loader *config.Loader) {
	if err := loader.Watch(); err != nil {
		logging.Default().Warn("config hot-reload disabled", "error", err)
		return
	}
	loader.OnChange(func(cfg *config.Config) {
		lc, err := cfg.LoggerConfig()
		if err != nil {
			return
		}
		logging.Default().SetLevel(lc.Level)
		logging.Default().Info("configuration reloaded", "path", loader.Path(), "level", logging.LevelString(lc.Level))
	})
	go func() {
		for err := range loader.Errors() {
			logging.Default().Warn("config reload failed", "error", err)
		}
	}()
}

func printResults(results []script.Result) {
	for _, r := range results {
		switch {
		case r.Pressed != nil:
			fmt.Printf("step %d %s: %t\n", r.Index, r.Action, *r.Pressed)
		case r.Position != nil:
			fmt.Printf("step %d %s: %d %d\n", r.Index, r.Action, r.Position.X, r.Position.Y)
		}
	}
}
