// Command test-send is a manual end-to-end check of the chat link.
// It scans, connects to the first peer found, sends one message and
// prints whatever comes back before disconnecting.
//
// Usage:
//
//	go run ./cmd/test-send [--backend sim|tinygo] [--peer id] [--text "hello"]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/peerlink/internal/ble"
	"github.com/chaz8081/peerlink/internal/ble/radio"
)

func main() {
	backend := flag.String("backend", "sim", "radio backend: sim or tinygo")
	adapterID := flag.String("adapter", "hci0", "BlueZ adapter id (tinygo backend)")
	peerID := flag.String("peer", "", "peer id to connect to (default: first discovered)")
	text := flag.String("text", "Hello from peerlink!", "message to send")
	wait := flag.Duration("wait", 15*time.Second, "overall deadline")
	flag.Parse()

	var r radio.Radio
	if *backend == "tinygo" {
		r = radio.NewTinyGo(*adapterID)
	} else {
		r = radio.NewSim(radio.SimOptions{
			Peers: []radio.SimPeer{{ID: "SIM-1", Name: "echo-peer", RSSI: -50, Echo: true}},
		})
	}
	defer r.Close()

	central := ble.NewCentral(r, ble.DefaultOptions())
	events, cancelEvents := central.Dispatcher().Subscribe()
	defer cancelEvents()

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()
	go central.Run(ctx)

	if err := run(ctx, central, events, *peerID, *text); err != nil {
		fmt.Printf("Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
	fmt.Println("\nDone!")
}

// run drives one scan, connect, send and reply round trip. Only the first
// matching discovery is acted on; adapters keep reporting the peer while the
// scan winds down.
func run(ctx context.Context, c *ble.Central, events <-chan ble.Event, target, text string) error {
	connecting := false
	for {
		var ev ble.Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("central stopped")
			}
			ev = e
		}

		switch e := ev.(type) {
		case ble.AdapterStateEvent:
			fmt.Printf("Adapter %s\n", e.State)
			if e.State == radio.StatePoweredOn {
				if err := c.StartScan(); err != nil {
					return err
				}
				fmt.Println("Scanning...")
			}
		case ble.PeerDiscoveredEvent:
			if connecting || (target != "" && e.Peer.ID != target) {
				continue
			}
			connecting = true
			fmt.Printf("Found %s %q (%d dBm), connecting...\n", e.Peer.ID, e.Peer.Name, e.Peer.RSSI)
			if err := c.StopScan(); err != nil {
				return err
			}
			if err := c.Connect(e.Peer.ID); err != nil {
				return err
			}
		case ble.ConnectionOutcomeEvent:
			if !e.Success {
				return e.Err
			}
			fmt.Println("Connected, negotiating...")
		case ble.StateChangedEvent:
			if e.To == ble.StateReady {
				fmt.Printf("Sending %q\n", text)
				if err := c.Send(text); err != nil {
					return err
				}
			}
		case ble.SendResultEvent:
			if !e.Success {
				return e.Err
			}
			fmt.Println("Write acknowledged, waiting for a reply...")
		case ble.MessageReceivedEvent:
			fmt.Printf("Received %q\n", e.Data)
			return c.Disconnect()
		}
	}
}
