//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"weensy/app"
	"weensy/hal"
	"weensy/weensyos/kernel"
	"weensy/weensyos/video"
)

func main() {
	var (
		headless bool
		cfg      hal.HeadlessConfig
		appCfg   app.Config
		logPath  string
	)
	flag.BoolVar(&headless, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Tick rate in headless mode.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	flag.StringVar(&appCfg.Command, "cmd", "", `Boot command: "", "fork", "forkexit" or a program name.`)
	flag.IntVar(&appCfg.Quantum, "quantum", 0, "User instructions per timer interrupt (0 = default).")
	flag.BoolVar(&appCfg.MemoryView, "memview", true, "Draw the memory map on the console.")
	flag.IntVar(&appCfg.StepsPerTick, "steps", app.DefaultStepsPerTick, "Kernel entries per millisecond of host time.")
	flag.StringVar(&logPath, "log", "", "Append kernel log lines to this file instead of stdout.")
	flag.Parse()

	var logw io.Writer
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		logw = f
	}

	w, h := video.Size()
	host := hal.Config{Width: w, Height: h, Log: logw}

	if headless {
		appCfg.ExitOnHalt = true
		cfg.Host = host
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err := hal.RunHeadless(ctx, func(h hal.HAL) func() error {
			return app.NewWithConfig(h, appCfg)
		}, cfg)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, kernel.ErrHalted) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := hal.RunWindow(host, func(h hal.HAL) func() error {
		return app.NewWithConfig(h, appCfg)
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
