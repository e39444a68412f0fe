// Copyright 2026 The StratoFS Authors
// SPDX-License-Identifier: Apache-2.0

package bootenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeHelper creates a stand-in mount helper binary so Finalize's
// existence check passes.
func writeHelper(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stratofs-mounter")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	env := Default()

	if env.KVEndpoint != "127.0.0.1:2379" {
		t.Errorf("KVEndpoint = %q, want %q", env.KVEndpoint, "127.0.0.1:2379")
	}
	if env.StorageType != "s3" {
		t.Errorf("StorageType = %q, want %q", env.StorageType, "s3")
	}
	if env.CacheCapacityBytes != 1<<30 {
		t.Errorf("CacheCapacityBytes = %d, want %d", env.CacheCapacityBytes, int64(1<<30))
	}
	if env.ServerPort != 8800 {
		t.Errorf("ServerPort = %d, want 8800", env.ServerPort)
	}
}

func TestApplyFileOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nodeboot.yaml")
	content := `
mount_dir: /mnt/stratofs-test
kv_endpoint: 10.0.0.5:2379
server_port: 9900
s3:
  bucket: integration-bucket
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	env := Default()
	if err := env.ApplyFile(configPath); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}

	if env.MountDir != "/mnt/stratofs-test" {
		t.Errorf("MountDir = %q, want %q", env.MountDir, "/mnt/stratofs-test")
	}
	if env.KVEndpoint != "10.0.0.5:2379" {
		t.Errorf("KVEndpoint = %q, want %q", env.KVEndpoint, "10.0.0.5:2379")
	}
	if env.ServerPort != 9900 {
		t.Errorf("ServerPort = %d, want 9900", env.ServerPort)
	}
	if env.S3BucketName != "integration-bucket" {
		t.Errorf("S3BucketName = %q, want %q", env.S3BucketName, "integration-bucket")
	}
	// Fields absent from the file keep their defaults.
	if env.NodeIP != "127.0.0.1" {
		t.Errorf("NodeIP = %q, want default %q", env.NodeIP, "127.0.0.1")
	}
}

func TestApplyFileMissing(t *testing.T) {
	env := Default()
	if err := env.ApplyFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("ApplyFile of a missing file should fail")
	}
}

func TestEnvironmentWinsOverFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nodeboot.yaml")
	if err := os.WriteFile(configPath, []byte("kv_endpoint: 10.0.0.5:2379\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("STRATOFS_KV_ENDPOINT", "192.168.1.1:2379")

	env := Default()
	if err := env.ApplyFile(configPath); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if err := env.ApplyEnvironment(); err != nil {
		t.Fatalf("ApplyEnvironment: %v", err)
	}

	if env.KVEndpoint != "192.168.1.1:2379" {
		t.Errorf("KVEndpoint = %q, want the environment value %q", env.KVEndpoint, "192.168.1.1:2379")
	}
}

func TestApplyEnvironmentParsesNumbers(t *testing.T) {
	t.Setenv("STRATOFS_SERVER_PORT", "8801")
	t.Setenv("STRATOFS_CACHE_CAPACITY", "536870912")

	env := Default()
	if err := env.ApplyEnvironment(); err != nil {
		t.Fatalf("ApplyEnvironment: %v", err)
	}

	if env.ServerPort != 8801 {
		t.Errorf("ServerPort = %d, want 8801", env.ServerPort)
	}
	if env.CacheCapacityBytes != 536870912 {
		t.Errorf("CacheCapacityBytes = %d, want 536870912", env.CacheCapacityBytes)
	}
}

func TestApplyEnvironmentRejectsBadNumber(t *testing.T) {
	t.Setenv("STRATOFS_SERVER_PORT", "not-a-port")

	env := Default()
	err := env.ApplyEnvironment()
	if err == nil {
		t.Fatal("ApplyEnvironment should reject a non-numeric port")
	}
	if !strings.Contains(err.Error(), "STRATOFS_SERVER_PORT") {
		t.Errorf("error %q should name the offending variable", err)
	}
}

func TestFinalizeResolvesHelper(t *testing.T) {
	helperPath := writeHelper(t)

	env := Default()
	env.MountHelperPath = helperPath
	if err := env.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if !filepath.IsAbs(env.MountHelperPath) {
		t.Errorf("MountHelperPath %q is not absolute", env.MountHelperPath)
	}
	if !filepath.IsAbs(env.MountDir) {
		t.Errorf("MountDir %q is not absolute", env.MountDir)
	}
	if env.NodeName == "" {
		t.Error("NodeName should default to the hostname")
	}
}

func TestFinalizeMissingHelperIsFatal(t *testing.T) {
	env := Default()
	env.MountHelperPath = filepath.Join(t.TempDir(), "no-such-helper")

	err := env.Finalize()
	if err == nil {
		t.Fatal("Finalize should fail when the mount helper does not exist")
	}
	if !strings.Contains(err.Error(), "no-such-helper") {
		t.Errorf("error %q should mention the helper path", err)
	}
}

func TestFinalizeValidation(t *testing.T) {
	env := Default()
	env.MountHelperPath = writeHelper(t)
	env.StorageType = "tape"
	env.ServerPort = 0
	env.CacheCapacityBytes = -1

	err := env.Finalize()
	if err == nil {
		t.Fatal("Finalize should report validation errors")
	}
	for _, fragment := range []string{"storage type", "server port", "cache capacity"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q should mention %q", err, fragment)
		}
	}
}
