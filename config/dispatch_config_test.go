package config

import (
	"testing"
	"time"
)

func TestParseBounds(t *testing.T) {
	bounds, err := ParseBounds("duration=10:600, bpm=40:300")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := bounds["duration"]; got.Min != 10 || got.Max != 600 {
		t.Fatalf("duration bound = %+v", got)
	}
	if !bounds["bpm"].Contains(120) || bounds["bpm"].Contains(301) {
		t.Fatalf("bpm bound does not behave inclusively: %+v", bounds["bpm"])
	}

	for _, bad := range []string{"duration", "duration=10", "duration=a:5", "duration=9:1"} {
		if _, err := ParseBounds(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseEnums(t *testing.T) {
	enums, err := ParseEnums("audio_format=wav|mp3; task_type=cover")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(enums["audio_format"]) != 2 || enums["task_type"][0] != "cover" {
		t.Fatalf("unexpected enums: %+v", enums)
	}
	if _, err := ParseEnums("audio_format="); err == nil {
		t.Fatalf("expected error for empty value list")
	}
}

func TestLoadDispatchConfigModes(t *testing.T) {
	t.Setenv("DEPLOY_MODE", "cpu")
	t.Setenv("QUEUE_CAPACITY", "3")
	t.Setenv("HEARTBEAT_TIMEOUT", "10")
	t.Setenv("DEAD_TIMEOUT", "20s")

	cfg, err := LoadDispatchConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != StoreDriverSQLite || cfg.QueueDriver != QueueDriverMemory || cfg.BlobDriver != BlobDriverLocal {
		t.Fatalf("cpu mode drivers = %s/%s/%s", cfg.StoreDriver, cfg.QueueDriver, cfg.BlobDriver)
	}
	if cfg.QueueCapacity != 3 {
		t.Fatalf("QueueCapacity = %d", cfg.QueueCapacity)
	}
	if cfg.HeartbeatTimeout != 10*time.Second || cfg.DeadTimeout != 20*time.Second {
		t.Fatalf("timeouts = %s/%s", cfg.HeartbeatTimeout, cfg.DeadTimeout)
	}
}

func TestLoadDispatchConfigRejectsInconsistentTimeouts(t *testing.T) {
	t.Setenv("DEPLOY_MODE", "gpu")
	t.Setenv("HEARTBEAT_TIMEOUT", "60s")
	t.Setenv("DEAD_TIMEOUT", "30s")

	if _, err := LoadDispatchConfig(); err == nil {
		t.Fatalf("expected error when dead timeout is shorter than heartbeat timeout")
	}
}

func TestLoadDispatchConfigUnknownMode(t *testing.T) {
	t.Setenv("DEPLOY_MODE", "quantum")
	if _, err := LoadDispatchConfig(); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
