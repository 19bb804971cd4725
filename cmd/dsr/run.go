//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daos-stack/dsr/common/cmdutil"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/system"
)

// runCmd starts a system and keeps it running until interrupted, serving
// its metrics over HTTP.
type runCmd struct {
	cmdutil.LogCmd
	cfgCmd
	MetricsAddr string        `long:"metrics-addr" short:"m" default:"localhost:9191" description:"address to serve metrics on (empty to disable)"`
	Interval    time.Duration `long:"interval" short:"i" default:"30s" description:"interval between system health reports"`
}

func (cmd *runCmd) startsSystem() {}

// Execute is run when runCmd subcommand is activated.
func (cmd *runCmd) Execute(_ []string) error {
	ctx := cmd.MustLogCtx()
	sys, cleanup, err := startSystem(ctx, cmd.Logger, cmd.cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if cmd.MetricsAddr != "" {
		execute, interrupt, err := metricsServer(cmd.Logger, sys, cmd.MetricsAddr)
		if err != nil {
			return err
		}
		g.Add(execute, interrupt)
	}

	monCtx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		return monitorSystem(monCtx, cmd.Logger, sys, cmd.Interval)
	}, func(error) {
		cancel()
	})

	cmd.Infof("system %q running with %d engines", sys.Name, len(sys.Ranks()))
	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		cmd.Infof("caught %s, stopping system %q", sigErr.Signal, sys.Name)
		return nil
	}
	return err
}

// metricsServer returns the actor functions of an HTTP server exporting
// the system registry. The listener is opened before returning so that
// a bad address fails the command immediately.
func metricsServer(log logging.Logger, sys *system.System, addr string) (func() error, func(error), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(sys.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	return func() error {
			log.Infof("serving metrics on http://%s/metrics", ln.Addr())
			if err := srv.Serve(ln); err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Errorf("metrics server shutdown: %s", err)
			}
		}, nil
}

// monitorSystem periodically logs a summary of member states until the
// context is canceled.
func monitorSystem(ctx context.Context, log logging.Logger, sys *system.System, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			members, err := sys.SystemQuery(ctx)
			if err != nil {
				log.Errorf("system query failed: %s", err)
				continue
			}
			stopped := members.Ranks(system.MemberStateStopped)
			if len(stopped) == 0 {
				log.Debugf("system %q: all %d members joined", sys.Name, len(members))
				continue
			}
			log.Noticef("system %q: %d/%d members stopped (ranks %v)", sys.Name, len(stopped), len(members), stopped)
		}
	}
}
