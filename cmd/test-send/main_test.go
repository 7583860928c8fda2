package main

import (
	"context"
	"testing"
	"time"

	"github.com/chaz8081/peerlink/internal/ble"
	"github.com/chaz8081/peerlink/internal/ble/radio"
)

// TestRunIgnoresRepeatedDiscoveries feeds every discovery twice, as a real
// adapter does while the scan is being stopped.
func TestRunIgnoresRepeatedDiscoveries(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{
		Peers: []radio.SimPeer{{ID: "SIM-1", Name: "echo-peer", RSSI: -50, Echo: true}},
	})
	defer sim.Close()

	c := ble.NewCentral(sim, ble.DefaultOptions())
	src, unsubscribe := c.Dispatcher().Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go c.Run(ctx)

	events := make(chan ble.Event)
	go func() {
		defer close(events)
		forward := func(ev ble.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for ev := range src {
			if !forward(ev) {
				return
			}
			if _, ok := ev.(ble.PeerDiscoveredEvent); ok && !forward(ev) {
				return
			}
		}
	}()

	if err := run(ctx, c, events, "", "ping"); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

func TestRunSkipsOtherPeers(t *testing.T) {
	sim := radio.NewSim(radio.SimOptions{
		Peers: []radio.SimPeer{
			{ID: "SIM-1", RSSI: -40},
			{ID: "SIM-2", RSSI: -60, Echo: true},
		},
	})
	defer sim.Close()

	c := ble.NewCentral(sim, ble.DefaultOptions())
	events, unsubscribe := c.Dispatcher().Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go c.Run(ctx)

	if err := run(ctx, c, events, "SIM-2", "ping"); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}
