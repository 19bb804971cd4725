//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"runtime/debug"
	"sync/atomic"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/build"
	"github.com/daos-stack/dsr/common/cmdutil"
	"github.com/daos-stack/dsr/fault"
	"github.com/daos-stack/dsr/lib/daos/api"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/server/config"
	"github.com/daos-stack/dsr/system"
)

type cliOptions struct {
	ConfigPath string         `long:"config" short:"o" description:"system configuration file"`
	Debug      bool           `long:"debug" description:"enable debug output"`
	JSON       bool           `long:"json" short:"j" description:"enable JSON output"`
	Pool       poolCmd        `command:"pool" description:"perform tasks related to pools"`
	Container  containerCmd   `command:"container" alias:"cont" description:"perform tasks related to containers"`
	Object     objectCmd      `command:"object" alias:"obj" description:"object operations"`
	KV         kvCmd          `command:"kv" description:"key-value object operations"`
	Array      arrayCmd       `command:"array" description:"array object operations"`
	System     systemCmd      `command:"system" alias:"sys" description:"system operations"`
	Config     configCmd      `command:"config" description:"inspect the system configuration"`
	Metrics    metricsCmd     `command:"metrics" description:"dump system metrics"`
	Shell      shellCmd       `command:"shell" description:"start a system and run commands against it interactively or from a file"`
	Run        runCmd         `command:"run" description:"start a system and serve its metrics until interrupted"`
	Version    versionCmd     `command:"version" description:"print dsr version"`
	ManPage    cmdutil.ManCmd `command:"manpage" hidden:"true"`
}

type versionCmd struct {
	cmdutil.JSONOutputCmd
	outputCmd
}

func (cmd *versionCmd) Execute(_ []string) error {
	if cmd.JSONOutputEnabled() {
		return cmd.OutputJSON(struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		}{build.CLIName, build.DaosVersion}, nil)
	}

	_, err := fmt.Fprintln(cmd.writer(), build.String(build.CLIName))
	return err
}

func exitWithError(log logging.Logger, err error) {
	cmdName := path.Base(os.Args[0])
	log.Errorf("%s: %v", cmdName, err)
	if fault.HasResolution(err) {
		log.Errorf("%s: %s", cmdName, fault.ShowResolutionFor(err))
	}
	os.Exit(1)
}

// loadConfig returns the configuration from the given file, the default
// file if one is found, or the built-in defaults.
func loadConfig(log logging.Logger, cfgPath string) (*config.System, error) {
	if cfgPath == "" {
		defPath, err := build.FindConfigFilePath(build.ConfigFile)
		if err != nil {
			if !build.IsDefaultConfigNotFound(err) {
				return nil, err
			}
			log.Debug("no config file found; using defaults")
			return config.DefaultSystem(), nil
		}
		cfgPath = defPath
	}

	log.Debugf("loading config from %s", cfgPath)
	return config.Load(cfgPath)
}

// startSystem creates and starts a system and attaches the client API to
// it. The returned function detaches and stops it.
func startSystem(ctx context.Context, log logging.Logger, cfg *config.System) (*system.System, func(), error) {
	sys, err := system.New(log, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := sys.Start(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "failed to start system")
	}

	prov, err := api.NewProvider(log, sys)
	if err != nil {
		if stopErr := sys.Stop(); stopErr != nil {
			log.Errorf("failed to stop system: %s", stopErr)
		}
		return nil, nil, err
	}

	return sys, func() {
		prov.Cleanup()
		if err := sys.Stop(); err != nil {
			log.Errorf("failed to stop system: %s", err)
		}
	}, nil
}

func newParser(opts *cliOptions) *flags.Parser {
	p := flags.NewParser(opts, flags.Default)
	p.Name = build.CLIName
	p.ShortDescription = "Command to manage an in-process distributed storage system"
	p.LongDescription = `dsr starts an in-process storage system of engines and replicated
services, and manages pools, containers and objects stored in it.

One-shot commands start a system from the configuration, run and stop
it again. Use the shell command to run a sequence of commands against
a single system, or the run command to keep a system serving metrics.`
	p.Options ^= flags.PrintErrors // Don't allow the library to print errors
	return p
}

// parseOpts parses and executes a command line. When sys is non-nil, the
// command runs against that system instead of starting its own.
func parseOpts(args []string, opts *cliOptions, log *logging.LeveledLogger, sys *system.System) error {
	return parseOptsWithOutput(args, opts, log, sys, os.Stdout)
}

func parseOptsWithOutput(args []string, opts *cliOptions, log *logging.LeveledLogger, sys *system.System, out io.Writer) error {
	var wroteJSON atomic.Bool
	p := newParser(opts)
	p.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}

		if manCmd, ok := cmd.(cmdutil.ManPageWriter); ok {
			manCmd.SetWriteFunc(p.WriteManPage)
			return cmd.Execute(args)
		}

		if opts.Debug {
			log.SetLevel(logging.LogLevelTrace)
			log.Debug("debug output enabled")
		}

		if jsonCmd, ok := cmd.(cmdutil.JSONOutputter); ok && opts.JSON {
			jsonCmd.EnableJSONOutput(out, &wroteJSON)
			// disable output on stdout other than JSON
			log.ClearLevel(logging.LogLevelInfo)
		}

		if outCmd, ok := cmd.(outputSetter); ok {
			outCmd.setOutput(out)
		}

		if logCmd, ok := cmd.(cmdutil.LogSetter); ok {
			logCmd.SetLog(log)
		}

		if argsCmd, ok := cmd.(cmdutil.ArgsHandler); ok {
			if err := argsCmd.CheckArgs(args); err != nil {
				return err
			}
		}

		if cfgCmd, ok := cmd.(configSetter); ok {
			if sys != nil {
				cfgCmd.setConfig(sys.Config())
			} else {
				cfg, err := loadConfig(log, opts.ConfigPath)
				if err != nil {
					return err
				}
				cfgCmd.setConfig(cfg)
			}
		}

		if _, ok := cmd.(systemStarter); ok && sys != nil {
			return errors.New("command is not available in an interactive session")
		}

		if sysCmd, ok := cmd.(systemSetter); ok {
			cmdSys := sys
			if cmdSys == nil {
				cfg, err := loadConfig(log, opts.ConfigPath)
				if err != nil {
					return err
				}
				ctx, err := logging.ToContext(context.Background(), log)
				if err != nil {
					return err
				}
				var cleanup func()
				cmdSys, cleanup, err = startSystem(ctx, log, cfg)
				if err != nil {
					return err
				}
				defer cleanup()
			}
			sysCmd.setSystem(cmdSys)
		}

		return cmd.Execute(args)
	}

	// Set the traceback level such that a crash results in
	// a coredump (when ulimit -c is set appropriately).
	debug.SetTraceback("crash")

	_, err := p.ParseArgs(args)
	if opts.JSON && !wroteJSON.Load() && !isHelp(err) {
		return cmdutil.OutputJSON(out, nil, err)
	}
	return err
}

func isHelp(err error) bool {
	fe, ok := errors.Cause(err).(*flags.Error)
	return ok && fe.Type == flags.ErrHelp
}

func main() {
	var opts cliOptions
	log := logging.NewCommandLineLogger()

	if err := parseOpts(os.Args[1:], &opts, log, nil); err != nil {
		if isHelp(err) {
			log.Info(err.Error())
			os.Exit(0)
		}
		exitWithError(log, err)
	}
}
