// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootenv builds the runtime configuration for a node launch.
//
// The configuration is an explicit, immutable value threaded through
// every pipeline stage as a function argument. nodeboot never mutates
// the process environment: values are read from STRATOFS_* variables
// when present (an externally supplied variable always wins over file
// and built-in values and is never clobbered), but nothing is written
// back.
//
// Precedence, lowest to highest: built-in defaults, the optional YAML
// config file, STRATOFS_* environment variables, command-line flags
// (applied by the caller directly on the Env before Finalize).
package bootenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Env is the runtime configuration consumed by the reconcile, build,
// and launch stages. Constructed once at startup, read-only thereafter.
type Env struct {
	// ControlSocketPath is the Unix socket the node exposes for local
	// control commands.
	ControlSocketPath string

	// NodeSocketPath is the Unix socket for the node's CSI endpoint.
	// The node receives it as a unix:// URI.
	NodeSocketPath string

	// KVEndpoint is the backend key-value (etcd) endpoint, host:port.
	// The metadata service is an external collaborator; nodeboot only
	// passes the address through.
	KVEndpoint string

	// MountDir is the filesystem path where the node mounts its
	// filesystem. The reconciler guarantees it is absent before the
	// launcher recreates it empty.
	MountDir string

	// MountHelperPath is the privileged mount helper binary. It must
	// resolve to an existing absolute path at Finalize time.
	MountHelperPath string

	// ArtifactPath is where the build leaves the node binary. Its
	// existence is the build stage's contract, not checked here.
	ArtifactPath string

	// StateDir holds nodeboot's own state (the launch record).
	StateDir string

	// NodeName identifies this node to the cluster. Defaults to the
	// machine hostname.
	NodeName string

	// NodeIP is the address the node advertises.
	NodeIP string

	// CSIDriverName is the driver name string registered with CSI.
	CSIDriverName string

	// CSIWorkerPort is the node's CSI worker port.
	CSIWorkerPort int

	// ServerPort is the node's main server port.
	ServerPort int

	// Object-storage backend connection values, passed through to the
	// node verbatim. Defaults match the local dev MinIO setup.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BucketName      string
	S3EndpointURL     string

	// CacheCapacityBytes is the node's in-memory cache size.
	CacheCapacityBytes int64

	// StorageType selects the node's storage backend ("s3" or "none").
	StorageType string

	// LogLevel controls nodeboot's own log verbosity and is forwarded
	// to the node.
	LogLevel string
}

// Default returns the built-in configuration for the local development
// environment. The values mirror the single-machine dev setup: etcd
// and MinIO on localhost, artifacts under target/debug.
func Default() Env {
	homeDir, _ := os.UserHomeDir()

	return Env{
		ControlSocketPath:  "/tmp/stratofs.sock",
		NodeSocketPath:     "/tmp/stratofs-node.sock",
		KVEndpoint:         "127.0.0.1:2379",
		MountDir:           "/tmp/stratofs",
		MountHelperPath:    "target/debug/stratofs-mounter",
		ArtifactPath:       "target/debug/stratofs-node",
		StateDir:           filepath.Join(homeDir, ".cache", "stratofs"),
		NodeIP:             "127.0.0.1",
		CSIDriverName:      "io.stratofs.csi.plugin",
		CSIWorkerPort:      50051,
		ServerPort:         8800,
		S3AccessKeyID:      "test",
		S3SecretAccessKey:  "test1234",
		S3BucketName:       "stratofs-dev",
		S3EndpointURL:      "http://127.0.0.1:9000",
		CacheCapacityBytes: 1 << 30,
		StorageType:        "s3",
		LogLevel:           "info",
	}
}

// fileConfig is the YAML schema of the optional config file. All
// fields are optional; zero values leave the current Env value in
// place.
type fileConfig struct {
	ControlSocket string `yaml:"control_socket"`
	NodeSocket    string `yaml:"node_socket"`
	KVEndpoint    string `yaml:"kv_endpoint"`
	MountDir      string `yaml:"mount_dir"`
	MountHelper   string `yaml:"mount_helper"`
	Artifact      string `yaml:"artifact"`
	StateDir      string `yaml:"state_dir"`
	NodeName      string `yaml:"node_name"`
	NodeIP        string `yaml:"node_ip"`
	CSIDriverName string `yaml:"csi_driver_name"`
	CSIWorkerPort int    `yaml:"csi_worker_port"`
	ServerPort    int    `yaml:"server_port"`

	S3 struct {
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		Bucket          string `yaml:"bucket"`
		Endpoint        string `yaml:"endpoint"`
	} `yaml:"s3"`

	CacheCapacityBytes int64  `yaml:"cache_capacity_bytes"`
	StorageType        string `yaml:"storage_type"`
	LogLevel           string `yaml:"log_level"`
}

// ApplyFile merges the YAML config file at path into the Env. Only
// fields present in the file (non-zero after unmarshal) override.
func (e *Env) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setString(&e.ControlSocketPath, file.ControlSocket)
	setString(&e.NodeSocketPath, file.NodeSocket)
	setString(&e.KVEndpoint, file.KVEndpoint)
	setString(&e.MountDir, file.MountDir)
	setString(&e.MountHelperPath, file.MountHelper)
	setString(&e.ArtifactPath, file.Artifact)
	setString(&e.StateDir, file.StateDir)
	setString(&e.NodeName, file.NodeName)
	setString(&e.NodeIP, file.NodeIP)
	setString(&e.CSIDriverName, file.CSIDriverName)
	setInt(&e.CSIWorkerPort, file.CSIWorkerPort)
	setInt(&e.ServerPort, file.ServerPort)
	setString(&e.S3AccessKeyID, file.S3.AccessKeyID)
	setString(&e.S3SecretAccessKey, file.S3.SecretAccessKey)
	setString(&e.S3BucketName, file.S3.Bucket)
	setString(&e.S3EndpointURL, file.S3.Endpoint)
	setInt64(&e.CacheCapacityBytes, file.CacheCapacityBytes)
	setString(&e.StorageType, file.StorageType)
	setString(&e.LogLevel, file.LogLevel)

	return nil
}

// ApplyEnvironment overrides Env fields from STRATOFS_* environment
// variables. Variables already set in the environment take precedence
// over file and default values; they are read, never written.
func (e *Env) ApplyEnvironment() error {
	stringVars := []struct {
		name   string
		target *string
	}{
		{"STRATOFS_CONTROL_SOCKET", &e.ControlSocketPath},
		{"STRATOFS_NODE_SOCKET", &e.NodeSocketPath},
		{"STRATOFS_KV_ENDPOINT", &e.KVEndpoint},
		{"STRATOFS_MOUNT_DIR", &e.MountDir},
		{"STRATOFS_MOUNT_HELPER", &e.MountHelperPath},
		{"STRATOFS_ARTIFACT", &e.ArtifactPath},
		{"STRATOFS_STATE_DIR", &e.StateDir},
		{"STRATOFS_NODE_NAME", &e.NodeName},
		{"STRATOFS_NODE_IP", &e.NodeIP},
		{"STRATOFS_CSI_DRIVER_NAME", &e.CSIDriverName},
		{"STRATOFS_S3_ACCESS_KEY_ID", &e.S3AccessKeyID},
		{"STRATOFS_S3_SECRET_ACCESS_KEY", &e.S3SecretAccessKey},
		{"STRATOFS_S3_BUCKET", &e.S3BucketName},
		{"STRATOFS_S3_ENDPOINT", &e.S3EndpointURL},
		{"STRATOFS_STORAGE_TYPE", &e.StorageType},
		{"STRATOFS_LOG_LEVEL", &e.LogLevel},
	}
	for _, v := range stringVars {
		if value, ok := os.LookupEnv(v.name); ok && value != "" {
			*v.target = value
		}
	}

	intVars := []struct {
		name   string
		target *int
	}{
		{"STRATOFS_CSI_WORKER_PORT", &e.CSIWorkerPort},
		{"STRATOFS_SERVER_PORT", &e.ServerPort},
	}
	for _, v := range intVars {
		value, ok := os.LookupEnv(v.name)
		if !ok || value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
		*v.target = parsed
	}

	if value, ok := os.LookupEnv("STRATOFS_CACHE_CAPACITY"); ok && value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("STRATOFS_CACHE_CAPACITY: %w", err)
		}
		e.CacheCapacityBytes = parsed
	}

	return nil
}

// Finalize resolves derived values and validates the configuration.
// It fills NodeName from the hostname, makes all paths absolute, and
// requires the mount helper binary to exist — a missing helper is a
// resolution error and fatal to the pipeline.
func (e *Env) Finalize() error {
	if e.NodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("determining node name: %w", err)
		}
		e.NodeName = hostname
	}

	helperPath, err := filepath.Abs(e.MountHelperPath)
	if err != nil {
		return fmt.Errorf("resolving mount helper path %q: %w", e.MountHelperPath, err)
	}
	if _, err := os.Stat(helperPath); err != nil {
		return fmt.Errorf("resolving mount helper %s: %w", helperPath, err)
	}
	e.MountHelperPath = helperPath

	for name, target := range map[string]*string{
		"artifact":  &e.ArtifactPath,
		"mount dir": &e.MountDir,
		"state dir": &e.StateDir,
	} {
		absolute, err := filepath.Abs(*target)
		if err != nil {
			return fmt.Errorf("resolving %s path %q: %w", name, *target, err)
		}
		*target = absolute
	}

	return e.validate()
}

// validate checks the configuration for errors. All problems are
// reported together so the operator fixes them in one pass.
func (e *Env) validate() error {
	var errs []error

	required := []struct {
		name  string
		value string
	}{
		{"control socket path", e.ControlSocketPath},
		{"node socket path", e.NodeSocketPath},
		{"kv endpoint", e.KVEndpoint},
		{"mount dir", e.MountDir},
		{"artifact path", e.ArtifactPath},
		{"state dir", e.StateDir},
		{"node ip", e.NodeIP},
		{"csi driver name", e.CSIDriverName},
		{"s3 bucket", e.S3BucketName},
		{"s3 endpoint", e.S3EndpointURL},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}

	for name, port := range map[string]int{
		"csi worker port": e.CSIWorkerPort,
		"server port":     e.ServerPort,
	} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range", name, port))
		}
	}

	if e.CacheCapacityBytes <= 0 {
		errs = append(errs, fmt.Errorf("cache capacity must be positive, got %d", e.CacheCapacityBytes))
	}

	if e.StorageType != "s3" && e.StorageType != "none" {
		errs = append(errs, fmt.Errorf("storage type must be \"s3\" or \"none\", got %q", e.StorageType))
	}

	switch e.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be one of debug, info, warn, error; got %q", e.LogLevel))
	}

	return errors.Join(errs...)
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func setInt64(target *int64, value int64) {
	if value != 0 {
		*target = value
	}
}
