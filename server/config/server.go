//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package config describes an in-process storage system and its engines.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/daos-stack/dsr/build"
	"github.com/daos-stack/dsr/engine"
	"github.com/daos-stack/dsr/lib/ranklist"
	"github.com/daos-stack/dsr/logging"
	"github.com/daos-stack/dsr/rsvc"
)

const (
	// MaxTargets is the largest number of targets an engine may host.
	MaxTargets = 64
	// MinTargetScm is the smallest SCM share a target may be given.
	MinTargetScm = 16 * humanize.MiByte

	defaultNrEngines = 3
	defaultNrTargets = 4
	defaultScmSize   = 1 * humanize.GiByte
	defaultNvmeSize  = 8 * humanize.GiByte
	defaultReplicas  = 3
	minRaftTimeout   = 10 * time.Millisecond
)

var systemNameRegexp = regexp.MustCompile(`^[^\s]{1,15}$`)

// Size is a byte count which is written in human form ("4GiB").
type Size uint64

// UnmarshalYAML accepts either a plain byte count or a humanized size.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}

	n, err := humanize.ParseBytes(str)
	if err != nil {
		return FaultConfigBadSize(str, err)
	}
	*s = Size(n)
	return nil
}

func (s Size) MarshalYAML() (interface{}, error) {
	str := s.String()
	if n, err := humanize.ParseBytes(str); err != nil || n != uint64(s) {
		return uint64(s), nil
	}
	return str, nil
}

func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// Engine describes the storage of one engine rank.
type Engine struct {
	Rank     ranklist.Rank `yaml:"rank"`
	Targets  int           `yaml:"targets"`
	ScmSize  Size          `yaml:"scm_size"`
	NvmeSize Size          `yaml:"nvme_size,omitempty"`
}

// NewEngine returns an engine configuration with default storage.
func NewEngine(rank ranklist.Rank) *Engine {
	return &Engine{
		Rank:     rank,
		Targets:  defaultNrTargets,
		ScmSize:  defaultScmSize,
		NvmeSize: defaultNvmeSize,
	}
}

// WithTargets sets the number of targets.
func (ec *Engine) WithTargets(nr int) *Engine {
	ec.Targets = nr
	return ec
}

// WithStorage sets the SCM and NVMe sizes.
func (ec *Engine) WithStorage(scm, nvme uint64) *Engine {
	ec.ScmSize = Size(scm)
	ec.NvmeSize = Size(nvme)
	return ec
}

// EngineConfig converts the configuration for engine.New.
func (ec *Engine) EngineConfig() engine.Config {
	return engine.Config{
		Rank:     ec.Rank,
		Targets:  ec.Targets,
		SCMSize:  uint64(ec.ScmSize),
		NVMeSize: uint64(ec.NvmeSize),
	}
}

func (ec *Engine) validate() error {
	if ec.Targets <= 0 || ec.Targets > MaxTargets {
		return FaultConfigBadTargetCount(ec.Rank, ec.Targets)
	}
	if uint64(ec.ScmSize)/uint64(ec.Targets) < MinTargetScm {
		return FaultConfigBadScmSize(ec.Rank, uint64(ec.ScmSize), MinTargetScm)
	}
	if ec.NvmeSize != 0 && ec.NvmeSize < ec.ScmSize {
		return FaultConfigBadNvmeSize(ec.Rank, uint64(ec.NvmeSize), uint64(ec.ScmSize))
	}
	return nil
}

// RaftTimeouts tune the raft groups of the management and pool services.
type RaftTimeouts struct {
	Heartbeat time.Duration `yaml:"heartbeat,omitempty"`
	Election  time.Duration `yaml:"election,omitempty"`
	Lease     time.Duration `yaml:"lease,omitempty"`
}

// System is the configuration of an in-process storage system.
type System struct {
	Name            string           `yaml:"name"`
	NrEngines       int              `yaml:"nr_engines,omitempty"`
	Engines         []*Engine        `yaml:"engines,omitempty"`
	MgmtSvcReplicas int              `yaml:"mgmt_svc_replicas"`
	PoolSvcReplicas int              `yaml:"pool_svc_replicas"`
	RaftDir         string           `yaml:"raft_dir,omitempty"`
	RaftNoSync      bool             `yaml:"raft_no_sync,omitempty"`
	RaftTimeouts    RaftTimeouts     `yaml:"raft_timeouts,omitempty"`
	LogLevel        logging.LogLevel `yaml:"log_level,omitempty"`
	LogFile         string           `yaml:"log_file,omitempty"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// DefaultSystem creates a new instance of configuration struct
// populated with defaults.
func DefaultSystem() *System {
	return &System{
		Name:            build.DefaultSystemName,
		NrEngines:       defaultNrEngines,
		MgmtSvcReplicas: defaultReplicas,
		PoolSvcReplicas: defaultReplicas,
		LogLevel:        logging.LogLevelInfo,
	}
}

// WithSystemName sets the system name.
func (cfg *System) WithSystemName(name string) *System {
	cfg.Name = name
	return cfg
}

// WithNrEngines sets the number of engines to create with default storage.
func (cfg *System) WithNrEngines(nr int) *System {
	cfg.NrEngines = nr
	return cfg
}

// WithEngines sets the list of engine configurations.
func (cfg *System) WithEngines(engines ...*Engine) *System {
	cfg.Engines = engines
	return cfg
}

// WithMgmtSvcReplicas sets the number of management service replicas.
func (cfg *System) WithMgmtSvcReplicas(nr int) *System {
	cfg.MgmtSvcReplicas = nr
	return cfg
}

// WithPoolSvcReplicas sets the default number of pool service replicas.
func (cfg *System) WithPoolSvcReplicas(nr int) *System {
	cfg.PoolSvcReplicas = nr
	return cfg
}

// WithRaftDir sets the directory for persistent raft stores.
func (cfg *System) WithRaftDir(dir string) *System {
	cfg.RaftDir = dir
	return cfg
}

// WithRaftTimeouts sets the raft timing parameters.
func (cfg *System) WithRaftTimeouts(heartbeat, election, lease time.Duration) *System {
	cfg.RaftTimeouts = RaftTimeouts{
		Heartbeat: heartbeat,
		Election:  election,
		Lease:     lease,
	}
	return cfg
}

// WithLogLevel sets the log level.
func (cfg *System) WithLogLevel(level logging.LogLevel) *System {
	cfg.LogLevel = level
	return cfg
}

// EngineConfigs returns the configured engines. When only nr_engines is
// set, ranks 0..N-1 are given the default storage.
func (cfg *System) EngineConfigs() []*Engine {
	if len(cfg.Engines) > 0 {
		return cfg.Engines
	}

	engines := make([]*Engine, 0, cfg.NrEngines)
	for i := 0; i < cfg.NrEngines; i++ {
		engines = append(engines, NewEngine(ranklist.Rank(i)))
	}
	return engines
}

// RaftConfig returns the raft settings for a service group.
func (cfg *System) RaftConfig() rsvc.Config {
	rc := rsvc.DefaultConfig()
	rc.RaftDir = cfg.RaftDir
	rc.NoSync = cfg.RaftNoSync
	if cfg.RaftTimeouts.Heartbeat != 0 {
		rc.HeartbeatTimeout = cfg.RaftTimeouts.Heartbeat
	}
	if cfg.RaftTimeouts.Election != 0 {
		rc.ElectionTimeout = cfg.RaftTimeouts.Election
	}
	if cfg.RaftTimeouts.Lease != 0 {
		rc.LeaderLeaseTimeout = cfg.RaftTimeouts.Lease
	}
	return rc
}

func validateReplicas(param string, nr, engines int) error {
	if nr <= 0 || nr > engines || nr%2 == 0 {
		return FaultConfigBadReplicaCount(param, nr, engines)
	}
	return nil
}

func (cfg *System) validateRaft() error {
	rt := cfg.RaftTimeouts
	for _, to := range []struct {
		name string
		val  time.Duration
	}{
		{"heartbeat", rt.Heartbeat},
		{"election", rt.Election},
		{"lease", rt.Lease},
	} {
		if to.val != 0 && to.val < minRaftTimeout {
			return FaultConfigBadRaftTimeout(to.name, to.val, minRaftTimeout)
		}
	}

	// raft refuses a leader lease longer than the heartbeat
	rc := cfg.RaftConfig()
	if rc.LeaderLeaseTimeout > rc.HeartbeatTimeout {
		return FaultConfigBadRaftTimeout("lease", rc.LeaderLeaseTimeout, rc.HeartbeatTimeout)
	}
	return nil
}

// Validate asserts that the configuration describes a usable system.
func (cfg *System) Validate(log logging.Logger) error {
	if !systemNameRegexp.MatchString(cfg.Name) {
		return FaultConfigBadName
	}

	engines := cfg.EngineConfigs()
	if len(engines) == 0 {
		return FaultConfigNoEngines
	}

	seen := ranklist.NewRankSet()
	for _, ec := range engines {
		if seen.Contains(ec.Rank) {
			return FaultConfigDuplicateRank(ec.Rank)
		}
		seen.Add(ec.Rank)

		if err := ec.validate(); err != nil {
			return err
		}
	}

	if err := validateReplicas("mgmt_svc_replicas", cfg.MgmtSvcReplicas, len(engines)); err != nil {
		return err
	}
	if err := validateReplicas("pool_svc_replicas", cfg.PoolSvcReplicas, len(engines)); err != nil {
		return err
	}
	if err := cfg.validateRaft(); err != nil {
		return err
	}

	log.Debugf("system %q: %d engines (ranks %s)", cfg.Name, len(engines), seen)
	return nil
}

// Fingerprint identifies the storage layout of the configuration. Settings
// which do not change the layout, such as logging, are ignored.
func (cfg *System) Fingerprint() (uint64, error) {
	return hashstructure.Hash(struct {
		Name            string
		Engines         []*Engine
		MgmtSvcReplicas int
		PoolSvcReplicas int
	}{
		Name:            cfg.Name,
		Engines:         cfg.EngineConfigs(),
		MgmtSvcReplicas: cfg.MgmtSvcReplicas,
		PoolSvcReplicas: cfg.PoolSvcReplicas,
	}, hashstructure.FormatV2, nil)
}

// Load reads the serialized configuration from disk. Validation is left
// to the caller.
func (cfg *System) Load() error {
	if cfg.Path == "" {
		return FaultConfigNoPath
	}

	bytes, err := os.ReadFile(cfg.Path)
	if err != nil {
		return errors.WithMessage(err, "reading file")
	}

	if err = yaml.UnmarshalStrict(bytes, cfg); err != nil {
		return errors.WithMessagef(err, "parse of %q failed; config contains invalid "+
			"parameters", cfg.Path)
	}

	return nil
}

// SetPath sets the path to the configuration file.
func (cfg *System) SetPath(inPath string) error {
	if _, err := os.Stat(inPath); err != nil {
		return err
	}
	cfg.Path = inPath
	return nil
}

// SaveToFile serializes the configuration and saves it to the specified filename.
func (cfg *System) SaveToFile(filename string) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, bytes, 0644)
}

// Load creates a configuration from the defaults overlaid with the given
// file.
func Load(path string) (*System, error) {
	cfg := DefaultSystem()
	cfg.Path = path
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}
