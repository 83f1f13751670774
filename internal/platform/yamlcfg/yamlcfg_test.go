package yamlcfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type knnOptions struct {
	NNeighbors int    `yaml:"n_neighbors"`
	Weights    string `yaml:"weights"`
}

func TestUnmarshal_RejectsUnknownFields(t *testing.T) {
	var opts knnOptions
	err := Unmarshal([]byte("n_neighbors: 3\nneighbours: 5\n"), &opts)
	if err == nil || !strings.Contains(err.Error(), "neighbours") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestRemarshal_Map(t *testing.T) {
	var opts knnOptions
	if err := Remarshal(map[string]any{"n_neighbors": 5, "weights": "distance"}, &opts); err != nil {
		t.Fatalf("Remarshal() err=%v", err)
	}
	if opts.NNeighbors != 5 || opts.Weights != "distance" {
		t.Fatalf("Remarshal()=%+v", opts)
	}
	if err := Remarshal(map[string]any{"k": 1}, &opts); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestRemarshal_NodeAndNil(t *testing.T) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte("weights: uniform\n"), &node); err != nil {
		t.Fatal(err)
	}
	opts := knnOptions{NNeighbors: 5}
	if err := Remarshal(&node, &opts); err != nil {
		t.Fatalf("Remarshal() err=%v", err)
	}
	if opts.Weights != "uniform" || opts.NNeighbors != 5 {
		t.Fatalf("defaults not preserved: %+v", opts)
	}
	if err := Remarshal(nil, &opts); err != nil {
		t.Fatalf("Remarshal(nil) err=%v", err)
	}
	if err := Remarshal(&yaml.Node{}, &opts); err != nil {
		t.Fatalf("Remarshal(empty node) err=%v", err)
	}
}

func TestLoadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if err := LoadFile(path, &v); err == nil {
		t.Fatalf("expected error for empty document")
	}
}
