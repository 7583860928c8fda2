package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chaz8081/peerlink/internal/ble"
	"github.com/chaz8081/peerlink/internal/ble/protocol"
	"github.com/chaz8081/peerlink/internal/ble/radio"
	"github.com/chaz8081/peerlink/internal/config"
	"github.com/chaz8081/peerlink/internal/store"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/peerlink/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	backend := flag.String("backend", "", "override radio.backend (sim or tinygo)")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *backend != "" {
		cfg.Radio.Backend = *backend
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	r := newRadio(cfg)
	defer r.Close()

	central := ble.NewCentral(r, cfg.CentralOptions())

	// Optional history store
	var db *store.DB
	if cfg.Store.Enabled {
		db, err = store.Open(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to open history store: %v", err)
		}
		defer db.Close()
		central.Dispatcher().Handle(store.NewRecorder(db, cfg.Store.LocalDeviceID))
		log.Printf("History store ready (%s)", cfg.Store.Path)
	}

	events, cancelEvents := central.Dispatcher().Subscribe()
	defer cancelEvents()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- central.Run(ctx) }()

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(lines)

	log.Println("Ready! Type 'help' for commands. Ctrl+C to quit.")

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printEvent(ev)

		case line, ok := <-lines:
			if !ok {
				log.Println("Input closed, shutting down...")
				shutdown(cancel, runErr)
				return
			}
			if quit := runCommand(central, db, cfg.Store.LocalDeviceID, line); quit {
				shutdown(cancel, runErr)
				return
			}

		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("ERROR: central stopped: %v", err)
			}
			log.Println("Radio stopped")
			return

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			shutdown(cancel, runErr)
			return
		}
	}
}

// newRadio builds the configured radio backend.
func newRadio(cfg *config.Config) radio.Radio {
	switch cfg.Radio.Backend {
	case "sim":
		log.Printf("Using simulated radio (%d peers)", len(cfg.Radio.Sim.Peers))
		return radio.NewSim(cfg.SimOptions())
	default:
		log.Printf("Using Bluetooth adapter %s", cfg.Radio.AdapterID)
		return radio.NewTinyGo(cfg.Radio.AdapterID)
	}
}

func shutdown(cancel context.CancelFunc, runErr <-chan error) {
	cancel()
	<-runErr
	log.Println("Goodbye!")
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// runCommand executes one input line. It reports whether to quit.
func runCommand(c *ble.Central, db *store.DB, localID, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "":
	case "help":
		printHelp()
	case "scan":
		err = c.StartScan()
	case "stop":
		err = c.StopScan()
	case "peers":
		peers := c.Peers()
		if len(peers) == 0 {
			fmt.Println("no peers discovered")
		}
		for i, p := range peers {
			fmt.Printf("  %d. %-20s %-16q %d dBm\n", i+1, p.ID, p.Name, p.RSSI)
		}
	case "connect":
		err = c.Connect(resolvePeer(c, arg))
	case "disconnect":
		err = c.Disconnect()
	case "send":
		err = c.Send(arg)
	case "status":
		var st ble.Status
		st, err = c.Status()
		if err == nil {
			fmt.Printf("  adapter=%s scanning=%t state=%s peer=%s writing=%t\n",
				st.Adapter, st.Scanning, st.State, st.Peer.ID, st.Writing)
		}
	case "stats", "inbox", "history":
		err = runHistory(db, localID, cmd, arg)
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q, type 'help'\n", cmd)
	}
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
	}
	return false
}

// resolvePeer accepts either a peer id or its 1-based index in 'peers'.
func resolvePeer(c *ble.Central, arg string) string {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg
	}
	peers := c.Peers()
	if n < 1 || n > len(peers) {
		return arg
	}
	return peers[n-1].ID
}

func runHistory(db *store.DB, localID, cmd, arg string) error {
	if db == nil {
		return errors.New("history store is disabled")
	}
	ctx := context.Background()
	switch cmd {
	case "stats":
		st, err := db.Stats(ctx, localID)
		if err != nil {
			return err
		}
		fmt.Printf("  attempts=%d successes=%d failures=%d\n", st.Attempts, st.Successes, st.Failures)
	case "inbox":
		previews, err := db.Previews(ctx, localID)
		if err != nil {
			return err
		}
		for _, p := range previews {
			fmt.Printf("  %-20s %s  %q (%d unread)\n", p.DeviceID, p.Timestamp.Format("2006-01-02 15:04"), protocol.Cut(p.LastMessage, 40), p.UnreadCount)
		}
	case "history":
		if arg == "" {
			arg = localID
		}
		msgs, err := db.Messages(ctx, arg, 20)
		if err != nil {
			return err
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			fmt.Printf("  %s %s -> %s [%s] %q\n", m.CreatedAt.Format("15:04:05"), m.SenderDeviceID, m.ReceiverDeviceID, m.DeliveryStatus, m.Content)
		}
	}
	return nil
}

func printEvent(ev ble.Event) {
	switch e := ev.(type) {
	case ble.AdapterStateEvent:
		fmt.Printf("* adapter %s\n", e.State)
		if ble.FatalAdapterState(e.State) {
			fmt.Println("* bluetooth is unavailable on this machine; scanning and connecting will fail")
		}
	case ble.PeerDiscoveredEvent:
		fmt.Printf("* found %s %q (%d dBm)\n", e.Peer.ID, e.Peer.Name, e.Peer.RSSI)
	case ble.ConnectionOutcomeEvent:
		if e.Success {
			fmt.Printf("* connected to %s\n", e.PeerID)
		} else {
			fmt.Printf("* connection to %s failed: %v\n", e.PeerID, e.Err)
		}
	case ble.CharacteristicReadyEvent:
		if !e.SupportsNotify {
			fmt.Printf("* %s cannot notify; incoming messages will not arrive\n", e.PeerID)
		}
	case ble.StateChangedEvent:
		if e.To == ble.StateReady {
			fmt.Printf("* ready to chat with %s\n", e.PeerID)
		}
	case ble.MessageReceivedEvent:
		fmt.Printf("< %s: %s\n", e.PeerID, e.Data)
	case ble.SendResultEvent:
		if e.Success {
			fmt.Printf("> %s: %s\n", e.PeerID, e.Payload)
		} else {
			fmt.Printf("! not delivered to %s: %v\n", e.PeerID, e.Err)
		}
	case ble.DisconnectedEvent:
		if e.Err != nil {
			fmt.Printf("* disconnected from %s: %v\n", e.PeerID, e.Err)
		} else {
			fmt.Printf("* disconnected from %s\n", e.PeerID)
		}
	}
}

func printHelp() {
	fmt.Println(`  scan               start scanning for peers
  stop               stop scanning
  peers              list discovered peers
  connect <id|n>     connect to a peer by id or list index
  send <text>        send a message to the connected peer
  disconnect         drop the current link
  status             show adapter and session state
  stats              connection statistics
  inbox              latest message per peer
  history [id]       recent messages
  quit               exit`)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== peerlink ===")
	fmt.Printf("  Radio:    %s (%s)\n", cfg.Radio.Backend, cfg.Radio.AdapterID)
	fmt.Printf("  Service:  %s\n", cfg.Radio.ServiceUUID)
	fmt.Printf("  Char:     %s\n", cfg.Radio.CharacteristicUUID)
	fmt.Printf("  Connect:  %s timeout\n", cfg.Timeouts.Connect)
	if cfg.Store.Enabled {
		fmt.Printf("  Store:    %s\n", cfg.Store.Path)
	} else {
		fmt.Println("  Store:    disabled")
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("================")
}
