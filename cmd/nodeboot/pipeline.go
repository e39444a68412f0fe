// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/stratofs/nodeboot/lib/binhash"
	"github.com/stratofs/nodeboot/lib/bootenv"
	"github.com/stratofs/nodeboot/lib/cargo"
	"github.com/stratofs/nodeboot/lib/launch"
	"github.com/stratofs/nodeboot/lib/mount"
)

// kvProbeTimeout bounds the preflight dial of the KV endpoint. The
// probe is advisory: the node has its own retry behavior, so an
// unreachable endpoint is a warning, never a pipeline failure.
const kvProbeTimeout = 500 * time.Millisecond

// pipeline is the single-pass bootstrap sequence. Each stage gates the
// next: the first error aborts the run and nothing downstream
// executes. Stage functions are injectable for tests; newPipeline
// wires the real implementations.
type pipeline struct {
	env          bootenv.Env
	buildOptions []string
	skipBuild    bool
	logger       *slog.Logger

	probeKV      func(endpoint string) error
	reconcile    func(dir string, logger *slog.Logger) error
	build        func(ctx context.Context, options []string) error
	hashArtifact func(path string) (binhash.Digest, error)
	createDir    func(dir string) error
	launch       func(env bootenv.Env, record launch.Record) error
}

// newPipeline wires the real stage implementations for the given
// configuration.
func newPipeline(env bootenv.Env, opts options, logger *slog.Logger) *pipeline {
	builder := &cargo.Builder{Timeout: opts.buildTimeout}
	launcher := launch.New()

	return &pipeline{
		env:          env,
		buildOptions: opts.buildOptions,
		skipBuild:    opts.skipBuild,
		logger:       logger,

		probeKV: func(endpoint string) error {
			conn, err := net.DialTimeout("tcp", endpoint, kvProbeTimeout)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		reconcile:    mount.New().Reconcile,
		build:        builder.Build,
		hashArtifact: binhash.HashFile,
		createDir:    launch.CreateMountDir,
		launch: func(env bootenv.Env, record launch.Record) error {
			if opts.supervise {
				pid, err := launcher.Supervise(env, record, logger)
				if err != nil {
					return err
				}
				logger.Info("node running, orchestrator exiting", "pid", pid)
				return nil
			}
			// Replaces the process image; only returns on failure.
			return launcher.Handoff(env, record, logger)
		},
	}
}

// run executes the pipeline: KV preflight (advisory), mount
// reconciliation, build, artifact digest, mount dir creation, launch.
func (p *pipeline) run(ctx context.Context) error {
	if err := p.probeKV(p.env.KVEndpoint); err != nil {
		p.logger.Warn("kv endpoint not reachable, launching anyway",
			"endpoint", p.env.KVEndpoint,
			"error", err,
		)
	}

	if err := p.reconcile(p.env.MountDir, p.logger); err != nil {
		return fmt.Errorf("reconciling mount state: %w", err)
	}

	if p.skipBuild {
		p.logger.Info("skipping build, using existing artifact", "artifact", p.env.ArtifactPath)
	} else {
		p.logger.Info("building node binary", "options", p.buildOptions)
		if err := p.build(ctx, p.buildOptions); err != nil {
			return err
		}
	}

	digest, err := p.hashArtifact(p.env.ArtifactPath)
	if err != nil {
		return fmt.Errorf("hashing build artifact: %w", err)
	}
	p.logArtifactChange(digest)

	if err := p.createDir(p.env.MountDir); err != nil {
		return err
	}

	record := launch.Record{
		ArtifactPath:   p.env.ArtifactPath,
		ArtifactDigest: digest.String(),
		MountPath:      p.env.MountDir,
		KVEndpoint:     p.env.KVEndpoint,
		LaunchedAt:     time.Now(),
	}
	return p.launch(p.env, record)
}

// logArtifactChange compares the fresh artifact digest against the
// previous launch record, if any. A corrupt or unreadable record only
// warns: it must never block a launch.
func (p *pipeline) logArtifactChange(digest binhash.Digest) {
	previous, found, err := launch.ReadRecord(launch.RecordPath(p.env.StateDir))
	if err != nil {
		p.logger.Warn("previous launch record unreadable", "error", err)
		return
	}
	if !found {
		return
	}

	previousDigest, err := binhash.ParseDigest(previous.ArtifactDigest)
	if err != nil {
		p.logger.Warn("previous launch record has a malformed digest", "error", err)
		return
	}

	if previousDigest == digest {
		p.logger.Info("artifact unchanged since last launch", "digest", digest)
	} else {
		p.logger.Info("artifact changed since last launch",
			"digest", digest,
			"previous_digest", previous.ArtifactDigest,
			"previous_launch", previous.LaunchedAt,
		)
	}
}
