package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skylane/internal/config"
)

func TestGeneratedDefaultValidates(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("uss1", "http://uss1.example")))
	if err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.USS.Manager != "uss1" || cfg.USS.Domain != "http://uss1.example" {
		t.Fatalf("cfg = %+v", cfg.USS)
	}
	if cfg.Constraints.DefaultType == "" {
		t.Fatalf("default constraint type missing")
	}
}

func TestLoadMissingFileSuggestsInit(t *testing.T) {
	_, err := config.Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("cfg = %v err = %v", cfg, err)
	}
}

func TestValidateRejectsNonHTTPDomain(t *testing.T) {
	yml := config.GenerateDefault("uss1", "uss1.example")
	if _, err := config.FromYAML([]byte(yml)); err == nil {
		t.Fatalf("expected domain scheme error")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	yml := config.GenerateDefault("uss1", "http://uss1.example")
	if err := os.WriteFile(filepath.Join(dir, "skylane.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DSS.URL == "" || cfg.Auth.URL == "" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
