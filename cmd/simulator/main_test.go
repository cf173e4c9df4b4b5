package main

import (
	"context"
	"testing"

	"github.com/signalsfoundry/agrinode-simulator/internal/config"
	"github.com/signalsfoundry/agrinode-simulator/radio"
)

func TestNewRNGDeterministicForFixedSeed(t *testing.T) {
	a, b := newRNG(42), newRNG(42)
	for i := 0; i < 16; i++ {
		if av, bv := a.Uint64(), b.Uint64(); av != bv {
			t.Fatalf("draw %d diverged: %d vs %d", i, av, bv)
		}
	}
}

func TestNewRNGZeroSeedDrawsFresh(t *testing.T) {
	a, b := newRNG(0), newRNG(0)
	same := true
	for i := 0; i < 16; i++ {
		if a.Uint64() != b.Uint64() {
			same = false
			break
		}
	}
	if same {
		t.Fatal("zero-seed streams should not be identical")
	}
}

func TestBuildTransportSim(t *testing.T) {
	cfg := config.Simulator{Uplink: "sim"}
	link, closeLink, err := buildTransport(context.Background(), cfg, nil, newRNG(1))
	if err != nil {
		t.Fatalf("buildTransport: %v", err)
	}
	defer closeLink()
	if _, ok := link.(*radio.SimRadio); !ok {
		t.Fatalf("expected *radio.SimRadio, got %T", link)
	}
}

func TestBuildPassTracker(t *testing.T) {
	tracker, err := buildPassTracker(config.Simulator{}, nil)
	if err != nil {
		t.Fatalf("unconfigured tracker: %v", err)
	}
	if tracker != nil {
		t.Fatal("expected nil tracker without TLE lines")
	}

	cfg := config.Simulator{
		RelayTLE1: "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990",
		RelayTLE2: "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760",
		SiteName:  "test-site",
	}
	tracker, err = buildPassTracker(cfg, nil)
	if err != nil {
		t.Fatalf("valid TLE rejected: %v", err)
	}
	if tracker == nil {
		t.Fatal("expected tracker for valid TLE")
	}

	cfg.RelayTLE1 = "garbage"
	if _, err := buildPassTracker(cfg, nil); err == nil {
		t.Fatal("expected error for malformed TLE")
	}
}
