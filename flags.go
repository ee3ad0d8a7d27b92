package main

import "flag"

type initOptions struct {
	logfile     string
	verbose     bool
	versionFlag bool

	variant     string
	profileFile string
	calibFile   string
	window      int
	emulate     bool

	calibrate bool

	hybrid  bool
	style   bool
	curve   string
	atcurve string

	withmidi   bool
	midiPort   string
	channel    int
	baseNote   int
	pressureCC int
}

func parseFlags() initOptions {
	var options initOptions
	flag.StringVar(
		&(options.logfile),
		"l",
		"",
		"Log into a file, rotating after 20MB",
	)
	flag.BoolVar(
		&(options.verbose),
		"v",
		false,
		"Write verbose logs to either stderr or logfile",
	)
	flag.BoolVar(
		&(options.versionFlag),
		"version",
		false,
		"Write version",
	)
	flag.StringVar(
		&(options.variant),
		"variant",
		"t16",
		"Hardware variant: t16, t32 or t64",
	)
	flag.StringVar(
		&(options.profileFile),
		"profile",
		"",
		"Load the hardware profile from a TOML file instead of a built-in variant",
	)
	flag.StringVar(
		&(options.calibFile),
		"calibration",
		"calibration.bin",
		"Calibration store file",
	)
	flag.IntVar(
		&(options.window),
		"window",
		16,
		"Moving-average filter window, 1..16",
	)
	flag.BoolVar(
		&(options.emulate),
		"emulate",
		true,
		"Scan a synthetic sensor backend instead of real hardware. "+
			"Board support backends turn this off.",
	)
	flag.BoolVar(
		&(options.calibrate),
		"calibrate",
		false,
		"Run the interactive calibration routine before serving events",
	)
	flag.BoolVar(
		&(options.hybrid),
		"hybrid",
		false,
		"Estimate velocity from attack rate and peak instead of dwell time",
	)
	flag.BoolVar(
		&(options.style),
		"style",
		false,
		"Adapt hybrid velocity to the detected playing style",
	)
	flag.StringVar(
		&(options.curve),
		"curve",
		"linear",
		"Velocity response curve: linear, exponential, logarithmic or quadratic",
	)
	flag.StringVar(
		&(options.atcurve),
		"atcurve",
		"linear",
		"Aftertouch response curve, same choices as -curve",
	)
	flag.BoolVar(
		&(options.withmidi),
		"midi",
		true,
		"Send events to a MIDI output port. Disable to log events instead. Example: keyscand -midi=false",
	)
	flag.StringVar(
		&(options.midiPort),
		"port",
		"",
		"MIDI output port name substring; the first port when empty",
	)
	flag.IntVar(
		&(options.channel),
		"channel",
		0,
		"MIDI channel, 0..15",
	)
	flag.IntVar(
		&(options.baseNote),
		"note",
		36,
		"MIDI note of key 0",
	)
	flag.IntVar(
		&(options.pressureCC),
		"cc",
		-1,
		"Controller number for continuous pressure, -1 to disable",
	)
	flag.Parse()
	return options
}
