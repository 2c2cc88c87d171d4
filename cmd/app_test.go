package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/flow"
)

func TestImageDevice(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "ada.jpg"), filepath.Join(dir, "grace.jpg")}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("jpeg"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	device, first, err := imageDevice(paths)
	if err != nil {
		t.Fatalf("imageDevice failed: %v", err)
	}
	if first != "image:ada.jpg" {
		t.Errorf("first = %q, want image:ada.jpg", first)
	}

	devices, err := device.EnumerateDevices(context.Background())
	if err != nil {
		t.Fatalf("EnumerateDevices failed: %v", err)
	}
	if len(devices) != 2 || devices[1].ID != "image:grace.jpg" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestImageDevice_MissingFile(t *testing.T) {
	if _, _, err := imageDevice([]string{filepath.Join(t.TempDir(), "missing.jpg")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStoreBackendsRegistered(t *testing.T) {
	backends := database.Backends()
	for _, name := range []string{
		config.StoreBackendFile,
		config.StoreBackendPostgres,
		config.StoreBackendRedis,
		config.StoreBackendSQLite,
	} {
		if !slices.Contains(backends, name) {
			t.Errorf("backend %q not registered, have %v", name, backends)
		}
	}
}

func TestSimulatedNote(t *testing.T) {
	if simulatedNote(false) != "" {
		t.Error("non-simulated results carry no note")
	}
	if simulatedNote(true) != " (simulated)" {
		t.Errorf("simulatedNote(true) = %q", simulatedNote(true))
	}
}

func TestApplyCameraFlags(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "probe.jpg")
	if err := os.WriteFile(img, []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		args       []string
		wantDevice string
		wantImages bool
	}{
		{name: "defaults", wantDevice: "/dev/video0"},
		{name: "device flag", args: []string{"--device", "/dev/video2"}, wantDevice: "/dev/video2"},
		{name: "image selects itself", args: []string{"--image", img}, wantDevice: "image:probe.jpg", wantImages: true},
		{name: "device wins over image", args: []string{"--image", img, "--device", "other"}, wantDevice: "other", wantImages: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			addCameraFlags(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}

			cfg := &config.Config{}
			cfg.Camera.Device = "/dev/video0"
			var opts appOptions
			if err := applyCameraFlags(cmd, cfg, &opts); err != nil {
				t.Fatalf("applyCameraFlags: %v", err)
			}
			if cfg.Camera.Device != tt.wantDevice {
				t.Errorf("device = %q, want %q", cfg.Camera.Device, tt.wantDevice)
			}
			if (opts.device != nil) != tt.wantImages {
				t.Errorf("image device set = %v, want %v", opts.device != nil, tt.wantImages)
			}
		})
	}
}

func TestAuthenticateReport_NoMatchEncodes(t *testing.T) {
	res := facematch.Match(facematch.Descriptor{0.1, 0.2}, nil, facematch.Options{Threshold: 0.9})
	report := authenticateReport{
		Verdict: "denied",
		Outcome: flow.AuthenticationOutcome{Result: res, Reason: flow.ReasonBelowThreshold},
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if decoded["verdict"] != "denied" {
		t.Errorf("verdict = %v", decoded["verdict"])
	}
}
