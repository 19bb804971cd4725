//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertbit/columnize"
	"github.com/desertbit/go-shlex"
	"github.com/desertbit/grumble"
	"github.com/pkg/errors"

	"github.com/daos-stack/dsr/build"
	"github.com/daos-stack/dsr/common/cmdutil"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/system"
)

const shellCommandsHeader = "Available commands:\n\n"

// Commands which would start another system are not offered in the shell.
var shellExcluded = map[string]bool{
	"shell":   true,
	"run":     true,
	"manpage": true,
}

// shellCmd starts a single system and runs commands against it until the
// user quits, or until the commands in a file have been run.
type shellCmd struct {
	cmdutil.LogCmd
	outputCmd
	cfgCmd
	File    string `long:"file" short:"f" description:"run the commands in this file and exit"`
	History string `long:"history" description:"history file for the interactive shell (default ~/.dsr_history)"`

	newLog func() *logging.LeveledLogger
}

func (cmd *shellCmd) startsSystem() {}

// cmdLogger returns a logger for a single shell command. Each command gets
// its own, as JSON output mode silences the info level of the logger it
// is given.
func (cmd *shellCmd) cmdLogger() *logging.LeveledLogger {
	if cmd.newLog != nil {
		return cmd.newLog()
	}

	log := logging.NewCommandLineLogger()
	if ll, ok := cmd.Logger.(*logging.LeveledLogger); ok {
		log.SetLevel(ll.Level())
	}
	return log
}

func (cmd *shellCmd) historyFile() string {
	if cmd.History != "" {
		return cmd.History
	}
	homedir, err := os.UserHomeDir()
	if err != nil {
		homedir = "/tmp"
	}
	return filepath.Join(homedir, "."+build.CLIName+"_history")
}

// Execute is run when shellCmd subcommand is activated.
func (cmd *shellCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	sys, cleanup, err := startSystem(ctx, cmd.Logger, cmd.cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	app := createShellApp(sys, cmd.historyFile(), cmd.writer(), cmd.cmdLogger)

	if cmd.File != "" {
		return runFileCmds(cmd.Logger, app, cmd.File)
	}

	cmd.Infof("%s shell, system %q with %d engines", build.String(build.CLIName), sys.Name, len(sys.Ranks()))
	printCommands(app, cmd.Logger)

	// app.Run() uses the os.Args so need to clear them before running
	os.Args = []string{}
	return app.Run()
}

// runShellCmd parses and runs one command line against the shared system.
func runShellCmd(sys *system.System, out io.Writer, log *logging.LeveledLogger, args []string) error {
	var opts cliOptions
	err := parseOptsWithOutput(args, &opts, log, sys, out)
	if isHelp(err) {
		log.Info(err.Error())
		return nil
	}
	return err
}

func createShellApp(sys *system.System, historyFile string, out io.Writer, newLog func() *logging.LeveledLogger) *grumble.App {
	app := grumble.New(&grumble.Config{
		Name:        build.CLIName,
		HistoryFile: historyFile,
		Prompt:      build.CLIName + ":  ",
	})

	for _, fc := range newParser(&cliOptions{}).Commands() {
		if fc.Hidden || shellExcluded[fc.Name] {
			continue
		}

		name := fc.Name
		app.AddCommand(&grumble.Command{
			Name:    name,
			Aliases: fc.Aliases,
			Help:    fc.ShortDescription,
			Args: func(a *grumble.Args) {
				a.StringList("args", "subcommand and its options", grumble.Default([]string{}))
			},
			Run: func(c *grumble.Context) error {
				args := append([]string{name}, c.Args.StringList("args")...)
				return runShellCmd(sys, out, newLog(), args)
			},
		})
	}

	// grumble also includes a builtin exit command
	app.AddCommand(&grumble.Command{
		Name:    "quit",
		Aliases: []string{"q"},
		Help:    "exit the shell",
		Run: func(c *grumble.Context) error {
			c.Stop()
			return nil
		},
	})
	return app
}

func runCmdStr(app *grumble.App, cmd string, args ...string) error {
	return app.RunCommand(append([]string{cmd}, args...))
}

// runFileCmds runs each line of the file as a shell command, stopping at
// the first failure. Blank lines and lines starting with # are skipped.
func runFileCmds(log logging.Logger, app *grumble.App, fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", fileName)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Errorf("failed to close %q: %s", fileName, err)
		}
	}()

	log.Debugf("running commands in %q", fileName)
	scanner := bufio.NewScanner(file)
	for lineNr := 1; scanner.Scan(); lineNr++ {
		line := scanner.Text()
		lineCmd, err := shlex.Split(line, true)
		if err != nil {
			return errors.Wrapf(err, "%s:%d: failed to parse %q", fileName, lineNr, line)
		}
		if len(lineCmd) == 0 || strings.HasPrefix(lineCmd[0], "#") {
			continue
		}

		log.Debugf("running command %q", line)
		if err := runCmdStr(app, lineCmd[0], lineCmd[1:]...); err != nil {
			return errors.Wrapf(err, "%s:%d: command %q failed", fileName, lineNr, line)
		}
	}

	return scanner.Err()
}

// printCommands lists the shell commands and their short help in columns.
func printCommands(app *grumble.App, log logging.Logger) {
	var output []string
	for _, c := range app.Commands().All() {
		if c.Name == "quit" {
			continue
		}
		output = append(output, c.Name+columnize.DefaultConfig().Delim+c.Help)
	}
	log.Info(shellCommandsHeader + columnize.SimpleFormat(output) + "\n")
}
