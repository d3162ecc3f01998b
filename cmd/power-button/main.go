// Command power-button drives a momentary power button, status LED and power
// relay, requesting an orderly shutdown of the powered host before cutting power.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/power-button/internal/config"
	"github.com/sweeney/power-button/internal/gpio"
	"github.com/sweeney/power-button/internal/logic"
	"github.com/sweeney/power-button/internal/mqtt"
	"github.com/sweeney/power-button/internal/power"
	"github.com/sweeney/power-button/internal/status"
	"github.com/sweeney/power-button/internal/web"
)

type options struct {
	configPath  string
	broker      string
	httpAddr    string
	backend     string
	noSafetyOff bool
	printState  bool
	logLevel    string
	logFormat   string
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	opts := registerFlags(fs)
	fs.Parse(os.Args[1:])

	if err := setupLogging(os.Stderr, opts.logLevel, opts.logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(fs, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	if err := run(cfg, opts.printState); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func registerFlags(fs *flag.FlagSet) *options {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.broker, "broker", "", "MQTT broker address, overrides config (empty disables MQTT)")
	fs.StringVar(&o.httpAddr, "http", "", "HTTP status address, overrides config (empty disables)")
	fs.StringVar(&o.backend, "backend", "", "GPIO backend: cdev, periph or rpio, overrides config")
	fs.BoolVar(&o.noSafetyOff, "no-safety-off", false, "Wait for shutdown confirmation indefinitely")
	fs.BoolVar(&o.printState, "print-state", false, "Print the debounced input levels and exit")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", "json", "Log format: json or console")
	return o
}

// loadConfig builds the configuration from defaults, the optional config
// file and any flags set explicitly on the command line.
func loadConfig(fs *flag.FlagSet, o *options) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.MQTT.Broker = o.broker
		case "http":
			cfg.HTTP.Addr = o.httpAddr
		case "backend":
			cfg.GPIO.Backend = o.backend
		case "no-safety-off":
			cfg.SafetyOff.Enabled = !o.noSafetyOff
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setupLogging(w io.Writer, level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	case "console":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	default:
		return fmt.Errorf("log format: unknown format %q", format)
	}
	return nil
}

func run(cfg config.Config, printState bool) error {
	// Print state mode touches inputs only, so it is safe next to a running daemon
	if printState {
		board, err := gpio.OpenInputs(cfg.GPIO.Backend, cfg.GPIO.Chip, cfg.GPIO.Pins)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer releaseBoard(board)
		return printInputs(os.Stdout, board, cfg.Timing.Debounce)
	}

	// Initialize GPIO
	board, err := gpio.Open(cfg.GPIO.Backend, cfg.GPIO.Chip, cfg.GPIO.Pins)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer releaseBoard(board)

	svc := power.New(board, power.Config{
		FlashTicks:     cfg.FlashTicks(),
		SafetyOffTicks: cfg.SafetyOffTicks(),
		Settle:         cfg.Timing.Debounce,
	}, time.Now)

	if err := svc.Init(); err != nil {
		return fmt.Errorf("init outputs: %w", err)
	}

	// Initialize MQTT
	var publisher mqtt.Publisher = mqtt.Nop{}
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Topic:      cfg.MQTT.Topic,
			BufferSize: cfg.MQTT.BufferSize,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = rp
	}
	queue := mqtt.NewQueue(publisher, mqtt.DefaultQueueSize)
	defer queue.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.Update(svc.Status())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	queue.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	})

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	log.Info().
		Str("backend", cfg.GPIO.Backend).
		Dur("tick", cfg.Timing.Tick).
		Dur("poll", cfg.Timing.Poll).
		Dur("debounce", cfg.Timing.Debounce).
		Int32("flash_ticks", cfg.FlashTicks()).
		Int32("safety_off_ticks", cfg.SafetyOffTicks()).
		Str("broker", cfg.MQTT.Broker).
		Dur("heartbeat", cfg.Heartbeat).
		Msg("started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tickTicker := time.NewTicker(cfg.Timing.Tick)
	defer tickTicker.Stop()
	go svc.RunTicks(ctx, tickTicker.C)

	pollTicker := time.NewTicker(cfg.Timing.Poll)
	defer pollTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(svc, queue, queue, tracker, cfg.Heartbeat, time.Now, pollTicker.C, sigCh)
}

// runLoop is the poll goroutine. It owns the service: every poll steps the
// controller, renders the outputs and hands transitions to the publisher.
func runLoop(svc *power.Service, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	hb := logic.NewHeartbeat(now())

	for {
		select {
		case s := <-sig:
			signalName := signalString(s)
			log.Info().Str("signal", signalName).Msg("shutting down")
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Error().Err(err).Msg("publish shutdown event")
			}
			return nil

		case <-tick:
			for _, event := range svc.Poll() {
				log.Info().
					Str("event", string(event.Type)).
					Str("from", string(event.From)).
					Str("to", string(event.To)).
					Str("reason", string(event.Reason)).
					Str("led", string(event.LED)).
					Str("relay", string(event.Relay)).
					Msg("transition")
				if err := publisher.Publish(event); err != nil {
					// Don't crash on publish failure
					log.Error().Err(err).Str("event", string(event.Type)).Msg("publish event")
				}
			}

			// Update status tracker for HTTP consumers
			if tracker != nil {
				tracker.Update(svc.Status())
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
			}

			if hbData := hb.Check(now(), heartbeat, svc.Counts()); hbData != nil {
				log.Info().
					Dur("uptime", hbData.Uptime).
					Int("power_on", hbData.Counts.PowerOn).
					Int("confirmed_off", hbData.Counts.ConfirmedPowerOff).
					Int("safety_timeout_off", hbData.Counts.SafetyTimeoutOff).
					Msg("heartbeat")

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
					Retained:  true,
				}
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					snap := tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Error().Err(err).Msg("publish heartbeat")
				}
			}
		}
	}
}

func statusConfig(cfg config.Config) status.Config {
	var safetyOffMs int64
	if cfg.SafetyOff.Enabled {
		safetyOffMs = cfg.SafetyOff.Timeout.Milliseconds()
	}
	return status.Config{
		Backend:     cfg.GPIO.Backend,
		TickMs:      cfg.Timing.Tick.Milliseconds(),
		PollMs:      cfg.Timing.Poll.Milliseconds(),
		DebounceUs:  cfg.Timing.Debounce.Microseconds(),
		FlashMs:     cfg.Timing.Flash.Milliseconds(),
		SafetyOffMs: safetyOffMs,
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		Topic:       cfg.MQTT.Topic,
		HTTPPort:    cfg.HTTP.Addr,
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func signalString(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func releaseBoard(board *gpio.Board) {
	if err := board.Close(); err != nil {
		log.Error().Err(err).Msg("release gpio")
	}
}

// printInputs writes one debounced sample of each input. Outputs on board
// may be nil; none are written.
func printInputs(w io.Writer, board *gpio.Board, settle time.Duration) error {
	svc := power.New(board, power.Config{Settle: settle}, time.Now)
	button, confirm, err := svc.ReadInputs()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	_, err = fmt.Fprintf(w, "button: %s, confirm: %s\n", levelString(button), levelString(confirm))
	return err
}

func levelString(asserted bool) string {
	if asserted {
		return "ASSERTED"
	}
	return "RELEASED"
}
