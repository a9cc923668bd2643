package docker

import (
	"strings"
	"testing"
)

func TestBuildArgs_NoImageFails(t *testing.T) {
	_, err := BuildArgs(Config{}, nil, "mcp-server", nil, false)
	if err != ErrNoImage {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestBuildArgs_IncludesRunRmImageAndOriginalCommand(t *testing.T) {
	args, err := BuildArgs(Config{Image: "mcp/server:latest", Network: "bridge"}, map[string]string{"TOKEN": "abc"}, "mcp-server", []string{"--verbose"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	joined := strings.Join(args, " ")
	if args[0] != "run" || args[1] != "--rm" {
		t.Fatalf("expected run --rm prefix, got %v", args)
	}
	if !strings.Contains(joined, "-e TOKEN=abc") {
		t.Fatalf("expected -e TOKEN=abc in %v", args)
	}
	if !strings.Contains(joined, "--network bridge") {
		t.Fatalf("expected --network bridge in %v", args)
	}
	if !strings.Contains(joined, "mcp/server:latest") {
		t.Fatalf("expected image in %v", args)
	}
	if !strings.HasSuffix(joined, "mcp-server --verbose") {
		t.Fatalf("expected original command+args appended, got %v", args)
	}
}

func TestBuildArgs_PackageRunnerShimOmitsOriginalCommand(t *testing.T) {
	args, err := BuildArgs(Config{Image: "node:20"}, nil, "npx", []string{"some-mcp-server"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	joined := strings.Join(args, " ")
	if strings.Contains(joined, "npx") || strings.Contains(joined, "some-mcp-server") {
		t.Fatalf("expected original shim command omitted, got %v", args)
	}
	if !strings.HasSuffix(joined, "node:20") {
		t.Fatalf("expected image as last element, got %v", args)
	}
}

func TestBuildArgs_VolumeBindingIncluded(t *testing.T) {
	args, err := BuildArgs(Config{Image: "img", Volumes: []string{"/host:/container"}}, nil, "cmd", nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-v /host:/container") {
		t.Fatalf("expected volume binding in %v", args)
	}
}
