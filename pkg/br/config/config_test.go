package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cognicore/openbr/pkg/br/brerr"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "br.yaml")

	content := `sdk_path: /opt/br
multi_process: true
parallelism: 2
workers: 3
block_size: 50
abbreviations:
  FaceRecognition: "Read+Normalize:Cosine"
log:
  format: json
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.SDKPath != "/opt/br" {
		t.Errorf("Expected sdk path /opt/br, got %q", cfg.SDKPath)
	}
	if !cfg.MultiProcess {
		t.Error("Expected multi_process to be true")
	}
	if cfg.Parallelism != 2 || cfg.Workers != 3 || cfg.BlockSize != 50 {
		t.Errorf("Unexpected sizes: %+v", cfg)
	}
	if cfg.Abbreviations["FaceRecognition"] != "Read+Normalize:Cosine" {
		t.Errorf("Abbreviation not loaded: %v", cfg.Abbreviations)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "debug" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadMergesAbbreviationsFile(t *testing.T) {
	tmpDir := t.TempDir()

	abbrevs := `FaceRecognition: "Read+Center:L2"
Quick: "Read:L1"
`
	if err := os.WriteFile(filepath.Join(tmpDir, "abbrevs.yaml"), []byte(abbrevs), 0644); err != nil {
		t.Fatal(err)
	}

	content := `abbreviations_file: abbrevs.yaml
abbreviations:
  FaceRecognition: "Read:Cosine"
`
	path := filepath.Join(tmpDir, "br.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// inline entries win over the file
	if cfg.Abbreviations["FaceRecognition"] != "Read:Cosine" {
		t.Errorf("Expected inline abbreviation to win, got %q", cfg.Abbreviations["FaceRecognition"])
	}
	if cfg.Abbreviations["Quick"] != "Read:L1" {
		t.Errorf("Expected file abbreviation, got %q", cfg.Abbreviations["Quick"])
	}
}

func TestLoadNonExistent(t *testing.T) {
	if _, err := Load("/nonexistent/br.yaml"); err == nil {
		t.Error("Should error on nonexistent config")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "br.yaml")
	if err := os.WriteFile(path, []byte("parallelism: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Should error on invalid yaml")
	}
}

func TestValidateRejectsZeroSizes(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	if err := cfg.Validate(); !errors.Is(err, brerr.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestModelPath(t *testing.T) {
	cfg := Default()
	cfg.SDKPath = "/opt/br"
	want := filepath.Join("/opt/br", "share", "br", "models", "algorithms", "FaceRecognition")
	if got := cfg.ModelPath("FaceRecognition"); got != want {
		t.Errorf("ModelPath = %q, want %q", got, want)
	}
}
