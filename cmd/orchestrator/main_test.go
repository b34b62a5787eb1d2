package main

import (
	"testing"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/config"
)

func TestRegistryConfig(t *testing.T) {
	cfg := &config.Config{EventMaxLen: 42, RunRetention: 5 * time.Minute}

	rc := registryConfig(cfg)
	if rc.EventMaxLen != 42 {
		t.Errorf("EventMaxLen = %d, want 42", rc.EventMaxLen)
	}
	if rc.Retention != 5*time.Minute {
		t.Errorf("Retention = %s, want 5m", rc.Retention)
	}
}
