// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

// nodeboot takes a StratoFS source tree to a running, locally-mounted
// storage node in one invocation: it resolves the runtime
// configuration, clears stale mount state, builds the node binary with
// cargo, and hands control off to the node process.
//
// Usage:
//
//	nodeboot [flags] [-- cargo build options...]
//
// Examples:
//
//	# Build and launch with the local dev defaults.
//	nodeboot
//
//	# Build with a cargo feature selector, forwarded verbatim.
//	nodeboot -- -F abi-7-23
//
//	# Relaunch the existing artifact without rebuilding.
//	nodeboot --skip-build
//
//	# Fork the node and exit instead of replacing the process.
//	nodeboot --supervise
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/stratofs/nodeboot/lib/bootenv"
	"github.com/stratofs/nodeboot/lib/process"
	"github.com/stratofs/nodeboot/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// options holds the parsed command line. Flag values that were not
// set on the command line are empty/zero and leave the corresponding
// Env value alone.
type options struct {
	configPath   string
	mountDir     string
	artifact     string
	kvEndpoint   string
	stateDir     string
	logLevel     string
	supervise    bool
	skipBuild    bool
	buildTimeout time.Duration
	showVersion  bool

	// buildOptions are the positional arguments, forwarded verbatim
	// to cargo build.
	buildOptions []string
}

// parseFlags parses the command line. Interspersed parsing is off so
// everything after the first positional argument (or after "--")
// belongs to cargo, not to nodeboot.
func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("nodeboot", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&opts.configPath, "config", "", "path to a YAML config override file")
	flagSet.StringVar(&opts.mountDir, "mount-dir", "", "node mount directory (overrides config and environment)")
	flagSet.StringVar(&opts.artifact, "artifact", "", "path to the node binary produced by the build")
	flagSet.StringVar(&opts.kvEndpoint, "kv-endpoint", "", "backend key-value endpoint, host:port")
	flagSet.StringVar(&opts.stateDir, "state-dir", "", "directory for nodeboot state (launch record)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log verbosity: debug, info, warn, error")
	flagSet.BoolVar(&opts.supervise, "supervise", false, "fork the node and exit after confirming startup instead of exec()")
	flagSet.BoolVar(&opts.skipBuild, "skip-build", false, "launch the existing artifact without rebuilding")
	flagSet.DurationVar(&opts.buildTimeout, "build-timeout", 0, "deadline for the cargo build (0 = none)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}

	opts.buildOptions = flagSet.Args()
	return opts, nil
}

// resolveEnv assembles the runtime configuration with the documented
// precedence: defaults, then the config file, then STRATOFS_*
// environment variables, then flags. Finalize resolves paths and
// validates.
func resolveEnv(opts options) (bootenv.Env, error) {
	env := bootenv.Default()

	if opts.configPath != "" {
		if err := env.ApplyFile(opts.configPath); err != nil {
			return bootenv.Env{}, err
		}
	}
	if err := env.ApplyEnvironment(); err != nil {
		return bootenv.Env{}, err
	}

	if opts.mountDir != "" {
		env.MountDir = opts.mountDir
	}
	if opts.artifact != "" {
		env.ArtifactPath = opts.artifact
	}
	if opts.kvEndpoint != "" {
		env.KVEndpoint = opts.kvEndpoint
	}
	if opts.stateDir != "" {
		env.StateDir = opts.stateDir
	}
	if opts.logLevel != "" {
		env.LogLevel = opts.logLevel
	}

	if err := env.Finalize(); err != nil {
		return bootenv.Env{}, err
	}
	return env, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		// pflag already printed the usage text.
		return nil
	}
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Printf("nodeboot %s\n", version.Full())
		return nil
	}

	env, err := resolveEnv(opts)
	if err != nil {
		return err
	}

	logger := newLogger(env.LogLevel)

	pipeline := newPipeline(env, opts, logger)
	return pipeline.run(context.Background())
}
