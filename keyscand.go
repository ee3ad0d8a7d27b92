package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/tactum/keyscand/calib"
	"github.com/tactum/keyscand/core"
	"github.com/tactum/keyscand/curve"
	"github.com/tactum/keyscand/hwprofile"
	"github.com/tactum/keyscand/midiout"
	"github.com/tactum/keyscand/scan"
)

const version = "0.4.1"

func main() {
	options := parseFlags()

	if options.versionFlag {
		fmt.Printf("keyscand version %s\n", version)
		return
	}

	stderrWriter, stderrLogger, longMemoryWriter := initLoggers(options.logfile, options.verbose)

	stderrLogger.Print("keyscand is starting.")

	var (
		profile *hwprofile.Profile
		err     error
	)
	if options.profileFile != "" {
		profile, err = hwprofile.Load(options.profileFile)
	} else {
		profile, err = hwprofile.ByName(options.variant)
	}
	if err != nil {
		stderrLogger.Fatalf("profile: %s", err)
	}
	longMemoryWriter.Println(fmt.Sprintf("main - profile %s, %d keys", profile.Name, profile.Keys))

	if !options.emulate {
		stderrLogger.Fatalf("No board support compiled in; run with -emulate")
	}
	port := scan.NewEmulator(profile.Banks, profile.Topology)

	velShape, err := curve.ParseShape(options.curve)
	if err != nil {
		stderrLogger.Fatalf("curve: %s", err)
	}
	atShape, err := curve.ParseShape(options.atcurve)
	if err != nil {
		stderrLogger.Fatalf("curve: %s", err)
	}

	cfg := core.DefaultConfig()
	cfg.Window = options.window
	cfg.Hybrid = options.hybrid
	cfg.Style = options.style
	cfg.VelocityCurve = velShape
	cfg.AftertouchCurve = atShape

	engine, err := core.New(profile, port, &calib.FileStore{Path: options.calibFile}, cfg, longMemoryWriter)
	if err != nil {
		stderrLogger.Fatalf("engine: %s", err)
	}
	engine.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dumpc := make(chan os.Signal, 1)
	signal.Notify(dumpc, syscall.SIGUSR1)
	go func() {
		for range dumpc {
			longMemoryWriter.Dump("keyscand detailed log", stderrWriter)
		}
	}()

	if options.calibrate {
		runCalibration(ctx, engine, stderrLogger)
	}

	if options.withmidi {
		if options.channel < 0 || options.channel > 15 {
			stderrLogger.Fatalf("midi: channel %d outside 0..15", options.channel)
		}
		if options.baseNote < 0 || options.baseNote > 127 {
			stderrLogger.Fatalf("midi: base note %d outside 0..127", options.baseNote)
		}
		drv, err := rtmididrv.New()
		if err != nil {
			stderrLogger.Fatalf("midi: %s", err)
		}
		defer drv.Close()

		out, err := findOut(drv, options.midiPort)
		if err != nil {
			stderrLogger.Fatalf("midi: %s", err)
		}
		if err := out.Open(); err != nil {
			stderrLogger.Fatalf("midi: %s", err)
		}
		sink, err := midiout.New(out, uint8(options.channel), uint8(options.baseNote), longMemoryWriter)
		if err != nil {
			stderrLogger.Fatalf("midi: %s", err)
		}
		sink.PressureController = options.pressureCC
		stderrLogger.Printf("sending MIDI to %q", out.String())

		if err := sink.Run(ctx, engine.Events()); err != nil && !errors.Is(err, context.Canceled) {
			stderrLogger.Fatalf("midi: %s", err)
		}
	} else {
		logEvents(ctx, engine, stderrLogger)
	}

	engine.Stop()
	longMemoryWriter.Println("main - ended successfully")
}

func runCalibration(ctx context.Context, engine *core.Engine, stderrLogger *log.Logger) {
	stderrLogger.Print("calibration: keep all keys untouched")
	done, err := engine.Calibrate(ctx, calib.RoutineConfig{
		OnProgress: func(p calib.Progress) {
			if p.Phase == calib.PhaseKeys {
				stderrLogger.Printf("calibration: key %d, %d cycles, %d/%d keys done",
					p.Key, p.Cycles, p.Done, p.Keys)
			}
		},
	})
	if err != nil {
		stderrLogger.Fatalf("calibration: %s (%d keys kept)", err, done)
	}
	stderrLogger.Printf("calibration complete, %d keys", done)
}

func findOut(drv drivers.Driver, name string) (drivers.Out, error) {
	outs, err := drv.Outs()
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 {
		return nil, errors.New("no MIDI output ports")
	}
	if name == "" {
		return outs[0], nil
	}
	for _, o := range outs {
		if strings.Contains(o.String(), name) {
			return o, nil
		}
	}
	return nil, fmt.Errorf("no MIDI output port matching %q", name)
}

func logEvents(ctx context.Context, engine *core.Engine, stderrLogger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-engine.Events():
			stderrLogger.Printf("key %d %s value %d", ev.Key, ev.Type, ev.Value)
		}
	}
}
