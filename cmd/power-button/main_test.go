package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/power-button/internal/config"
	"github.com/sweeney/power-button/internal/gpio"
	"github.com/sweeney/power-button/internal/logic"
	"github.com/sweeney/power-button/internal/mqtt"
	"github.com/sweeney/power-button/internal/power"
	"github.com/sweeney/power-button/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		assert.Equal(t, canonical, got)
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}, *info)
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	assert.Nil(t, readNetworkInfo())
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, "connected", info.Status)
	assert.Empty(t, info.IP)
	assert.Empty(t, info.SSID)
}

// --- configuration ---

func parseFlags(t *testing.T, args ...string) (*flag.FlagSet, *options) {
	t.Helper()
	fs := flag.NewFlagSet("power-button", flag.ContinueOnError)
	o := registerFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs, o
}

func TestLoadConfigDefaults(t *testing.T) {
	fs, o := parseFlags(t)
	cfg, err := loadConfig(fs, o)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg, "unset flags must not override defaults")
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	fs, o := parseFlags(t, "-broker", "", "-http", ":9090", "-backend", "periph", "-no-safety-off")
	cfg, err := loadConfig(fs, o)
	require.NoError(t, err)

	assert.Empty(t, cfg.MQTT.Broker, "explicit empty broker disables MQTT")
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, gpio.BackendPeriph, cfg.GPIO.Backend)
	assert.False(t, cfg.SafetyOff.Enabled)
	assert.Zero(t, cfg.SafetyOffTicks())
}

func TestLoadConfigFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "power-button.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  broker: tcp://file:1883\nhttp:\n  addr: \":81\"\n"), 0o644))

	fs, o := parseFlags(t, "-config", path, "-http", ":82")
	cfg, err := loadConfig(fs, o)
	require.NoError(t, err)
	assert.Equal(t, "tcp://file:1883", cfg.MQTT.Broker)
	assert.Equal(t, ":82", cfg.HTTP.Addr)
}

func TestLoadConfigInvalid(t *testing.T) {
	fs, o := parseFlags(t, "-backend", "sysfs")
	_, err := loadConfig(fs, o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpio.backend")
}

func TestLoadConfigMissingFile(t *testing.T) {
	fs, o := parseFlags(t, "-config", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loadConfig(fs, o)
	assert.Error(t, err)
}

func TestStatusConfig(t *testing.T) {
	cfg := config.Default()
	sc := statusConfig(cfg)
	assert.Equal(t, int64(10), sc.TickMs)
	assert.Equal(t, int64(2), sc.PollMs)
	assert.Equal(t, int64(300), sc.DebounceUs)
	assert.Equal(t, int64(500), sc.FlashMs)
	assert.Equal(t, int64(50000), sc.SafetyOffMs)
	assert.Equal(t, "power/button", sc.Topic)

	cfg.SafetyOff.Enabled = false
	assert.Zero(t, statusConfig(cfg).SafetyOffMs)
}

// --- logging ---

func restoreLogging(t *testing.T) {
	t.Helper()
	logger, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	})
}

func TestSetupLoggingJSON(t *testing.T) {
	restoreLogging(t)
	var buf bytes.Buffer
	require.NoError(t, setupLogging(&buf, "info", "json"))

	log.Debug().Msg("hidden")
	log.Info().Str("to", "POWER_ON").Msg("transition")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "exactly one JSON line expected, got %q", buf.String())
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "POWER_ON", line["to"])
	assert.Contains(t, line, "time")
}

func TestSetupLoggingConsole(t *testing.T) {
	restoreLogging(t)
	var buf bytes.Buffer
	require.NoError(t, setupLogging(&buf, "debug", "console"))

	log.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "DBG")
}

func TestSetupLoggingErrors(t *testing.T) {
	restoreLogging(t)
	assert.Error(t, setupLogging(&bytes.Buffer{}, "loud", "json"))
	assert.Error(t, setupLogging(&bytes.Buffer{}, "info", "xml"))
}

func TestSignalAndLevelStrings(t *testing.T) {
	assert.Equal(t, "SIGINT", signalString(syscall.SIGINT))
	assert.Equal(t, "SIGTERM", signalString(syscall.SIGTERM))
	assert.Equal(t, "UNKNOWN", signalString(syscall.SIGHUP))
	assert.Equal(t, "ASSERTED", levelString(true))
	assert.Equal(t, "RELEASED", levelString(false))
}

func TestPrintInputsLeavesOutputsAlone(t *testing.T) {
	board, lines := gpio.NewFakeBoard()
	lines.Button.Set(true)

	var out bytes.Buffer
	require.NoError(t, printInputs(&out, board, 0))
	assert.Equal(t, "button: ASSERTED, confirm: RELEASED\n", out.String())

	for name, o := range map[string]*gpio.FakeOutput{
		"led":              lines.LED,
		"relay":            lines.Relay,
		"shutdown_request": lines.ShutdownRequest,
		"debug":            lines.Debug,
	} {
		assert.Zero(t, o.Writes, "%s written", name)
	}
}

func TestPrintInputsOnInputsOnlyBoard(t *testing.T) {
	board := &gpio.Board{
		Button:  gpio.NewFakeInput(false),
		Confirm: gpio.NewFakeInput(true),
	}

	var out bytes.Buffer
	require.NoError(t, printInputs(&out, board, 0))
	assert.Equal(t, "button: RELEASED, confirm: ASSERTED\n", out.String())
}

func TestPrintInputsReadError(t *testing.T) {
	button := gpio.NewFakeInput(false)
	button.ReadError = assert.AnError
	board := &gpio.Board{Button: button, Confirm: gpio.NewFakeInput(false)}

	var out bytes.Buffer
	err := printInputs(&out, board, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read gpio")
	assert.Empty(t, out.String())
}

// --- runLoop tests ---

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// newTestService builds a service over a fake board. Event timestamps come
// from a fixed clock so they do not consume runLoop's clock.
func newTestService(t *testing.T, cfg power.Config) (*power.Service, *gpio.FakeLines) {
	t.Helper()
	board, lines := gpio.NewFakeBoard()
	svc := power.New(board, cfg, func() time.Time { return testStart })
	require.NoError(t, svc.Init())
	return svc, lines
}

type loopRun struct {
	tick chan time.Time
	sig  chan os.Signal
	err  chan error
}

func startRunLoop(svc *power.Service, pub *mqtt.FakePublisher, tracker *status.Tracker, heartbeat time.Duration, clock func() time.Time) *loopRun {
	r := &loopRun{
		tick: make(chan time.Time),
		sig:  make(chan os.Signal, 1),
		err:  make(chan error, 1),
	}
	go func() {
		r.err <- runLoop(svc, pub, pub, tracker, heartbeat, clock, r.tick, r.sig)
	}()
	return r
}

// ticks sends n poll ticks. Each send returns once runLoop has finished the
// previous poll.
func (r *loopRun) ticks(n int) {
	for i := 0; i < n; i++ {
		r.tick <- time.Time{}
	}
}

func (r *loopRun) stop(t *testing.T, s os.Signal) {
	t.Helper()
	r.sig <- s
	select {
	case err := <-r.err:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return after signal")
	}
}

func eventTypes(events []logic.Event) []logic.EventType {
	out := make([]logic.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestRunLoopIdleNoEvents(t *testing.T) {
	svc, _ := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 100})
	pub := mqtt.NewFakePublisher()

	r := startRunLoop(svc, pub, nil, 0, fakeClock(testStart, time.Millisecond))
	r.ticks(20)
	r.stop(t, syscall.SIGTERM)

	assert.Empty(t, pub.Events)
	require.Len(t, pub.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN", pub.SystemEvents[0].Event)
	assert.Equal(t, "SIGTERM", pub.SystemEvents[0].Reason)
	assert.True(t, pub.SystemEvents[0].Retained)
}

func TestRunLoopFullPowerCycle(t *testing.T) {
	svc, lines := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 100})
	// press, release, press, release; a debounced press reads the line twice
	lines.Button.Samples = []bool{true, true, false, true, true, false}
	// only read in POWER_OFF: one idle poll, then a confirmed assertion
	lines.Confirm.Samples = []bool{false, true, true}
	pub := mqtt.NewFakePublisher()

	r := startRunLoop(svc, pub, nil, 0, fakeClock(testStart, time.Millisecond))
	r.ticks(8)
	r.stop(t, syscall.SIGTERM)

	assert.Equal(t, []logic.EventType{
		logic.EventPowerOnPressed,
		logic.EventPowerOn,
		logic.EventPowerOffPressed,
		logic.EventShutdownRequested,
		logic.EventPowerOff,
	}, eventTypes(pub.Events))

	last := pub.Events[len(pub.Events)-1]
	assert.Equal(t, logic.ReasonConfirmed, last.Reason)
	assert.Equal(t, logic.StateIdle, last.To)
	assert.True(t, last.Timestamp.Equal(testStart))
	require.Len(t, pub.Payloads, 5)
	assert.Contains(t, string(pub.Payloads[3]), `"event":"SHUTDOWN_REQUESTED"`)

	assert.False(t, lines.Relay.Level)
	assert.False(t, lines.ShutdownRequest.Level)
}

func TestRunLoopSafetyTimeout(t *testing.T) {
	svc, lines := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 3})
	lines.Button.Samples = []bool{true, true, false, true, true, false}
	pub := mqtt.NewFakePublisher()

	r := startRunLoop(svc, pub, nil, 0, fakeClock(testStart, time.Millisecond))
	// The fifth send returns once the fourth poll (entering POWER_OFF and
	// arming the safety counter) has completed.
	r.ticks(5)
	for i := 0; i < 3; i++ {
		svc.Tick()
	}
	r.ticks(2)
	r.stop(t, syscall.SIGTERM)

	require.Len(t, pub.Events, 5)
	assert.Equal(t, logic.EventPowerOff, pub.Events[4].Type)
	assert.Equal(t, logic.ReasonSafetyTimeout, pub.Events[4].Reason)
	assert.False(t, lines.Relay.Level)
}

func TestRunLoopPublishErrorDoesNotStopLoop(t *testing.T) {
	svc, lines := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 100})
	lines.Button.Samples = []bool{true, true, false}
	pub := mqtt.NewFakePublisher()
	pub.PublishError = assert.AnError

	r := startRunLoop(svc, pub, nil, 0, fakeClock(testStart, time.Millisecond))
	r.ticks(4)
	r.stop(t, syscall.SIGINT)

	assert.Empty(t, pub.Events)
	assert.True(t, lines.Relay.Level, "relay follows the controller regardless of MQTT")
	require.Len(t, pub.SystemEvents, 1)
	assert.Equal(t, "SIGINT", pub.SystemEvents[0].Reason)
}

func TestRunLoopUpdatesTracker(t *testing.T) {
	svc, lines := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 100})
	lines.Button.Samples = []bool{true, true, false}
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := status.NewTracker(testStart, status.Config{Broker: "tcp://localhost:1883"})

	r := startRunLoop(svc, pub, tracker, 0, fakeClock(testStart, time.Millisecond))
	r.ticks(3)
	r.stop(t, syscall.SIGTERM)

	snap := tracker.Snapshot()
	assert.True(t, snap.Polled)
	assert.Equal(t, logic.StatePowerOn, snap.Power.State)
	assert.True(t, snap.Power.RelayOn)
	assert.Equal(t, 1, snap.Power.Counts.PowerOn)
	assert.True(t, snap.MQTTConnected)

	// Shutdown carries the full status snapshot
	require.Len(t, pub.SystemPayloads, 1)
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(pub.SystemPayloads[0], &sj))
	assert.Equal(t, "SHUTDOWN", sj.Status.Event)
	assert.Equal(t, "SIGTERM", sj.Status.Reason)
	assert.Equal(t, "POWER_ON", sj.Status.State)
}

func TestRunLoopHeartbeat(t *testing.T) {
	svc, _ := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 100})
	pub := mqtt.NewFakePublisher()

	// One minute per clock call: heartbeat due at ticks 5 and 10
	r := startRunLoop(svc, pub, nil, 5*time.Minute, fakeClock(testStart, time.Minute))
	r.ticks(12)
	r.stop(t, syscall.SIGTERM)

	require.Len(t, pub.SystemEvents, 3)
	assert.Equal(t, "HEARTBEAT", pub.SystemEvents[0].Event)
	assert.True(t, pub.SystemEvents[0].Timestamp.Equal(testStart.Add(5*time.Minute)))
	assert.True(t, pub.SystemEvents[0].Retained)
	assert.Equal(t, "HEARTBEAT", pub.SystemEvents[1].Event)
	assert.True(t, pub.SystemEvents[1].Timestamp.Equal(testStart.Add(10*time.Minute)))
	assert.Equal(t, "SHUTDOWN", pub.SystemEvents[2].Event)
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	svc, _ := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 100})
	pub := mqtt.NewFakePublisher()

	r := startRunLoop(svc, pub, nil, 0, fakeClock(testStart, time.Hour))
	r.ticks(10)
	r.stop(t, syscall.SIGTERM)

	require.Len(t, pub.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN", pub.SystemEvents[0].Event)
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkType, "ethernet")
	t.Setenv(envNetworkIP, "10.0.0.7")
	t.Setenv(envNetworkStatus, "connected")

	svc, _ := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 100})
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(testStart, status.Config{})

	r := startRunLoop(svc, pub, tracker, time.Minute, fakeClock(testStart, time.Minute))
	r.ticks(1)
	r.stop(t, syscall.SIGTERM)

	require.Len(t, pub.SystemPayloads, 2)
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(pub.SystemPayloads[0], &sj))
	assert.Equal(t, "HEARTBEAT", sj.Status.Event)
	require.NotNil(t, sj.Status.Network)
	assert.Equal(t, "10.0.0.7", sj.Status.Network.IP)
	assert.Equal(t, "IDLE", sj.Status.State)
}

func TestRunLoopReadErrorKeepsRunning(t *testing.T) {
	svc, lines := newTestService(t, power.Config{FlashTicks: 5, SafetyOffTicks: 100})
	lines.Button.ReadError = assert.AnError
	pub := mqtt.NewFakePublisher()

	r := startRunLoop(svc, pub, nil, 0, fakeClock(testStart, time.Millisecond))
	r.ticks(5)
	r.stop(t, syscall.SIGTERM)

	assert.Empty(t, pub.Events, "a failing button line reads as released")
	assert.Equal(t, 5, lines.Button.Reads)
}
