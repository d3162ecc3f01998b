// Package power runs the power controller against real or fake GPIO lines.
//
// A Service owns the controller, the debounced reader and the actuators.
// Poll is called from the main loop; RunTicks runs the periodic tick
// handler in its own goroutine. The two share only the controller counters.
package power

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/power-button/internal/debounce"
	"github.com/sweeney/power-button/internal/gpio"
	"github.com/sweeney/power-button/internal/logic"
	"github.com/sweeney/power-button/internal/output"
)

// Config holds the tick-count parameters of a Service.
type Config struct {
	// FlashTicks is the LED toggle period in ticks.
	FlashTicks int32
	// SafetyOffTicks bounds the wait for shutdown confirmation.
	// Zero disables the safety timeout.
	SafetyOffTicks int32
	// Settle is the debounce delay between the two samples of an input.
	Settle time.Duration
}

// Status is a point-in-time view of the controller and its outputs.
type Status struct {
	State              logic.State
	LED                logic.Mode
	Relay              logic.Mode
	LEDOn              bool
	RelayOn            bool
	ShutdownRequested  bool
	SafetyOffEnabled   bool
	SafetyOffRemaining int32
	Counts             logic.EventCounts
}

// Service drives the controller from board inputs to board outputs.
type Service struct {
	board      *gpio.Board
	controller *logic.Controller
	reader     *debounce.Reader
	now        func() time.Time

	led      *output.LED
	relay    *output.Relay
	shutdown *output.Level

	inputs inputs
	faults faultLog
}

// New creates a Service. The board must already have every line requested.
func New(board *gpio.Board, cfg Config, now func() time.Time) *Service {
	return newService(board, cfg, debounce.NewReader(cfg.Settle), now)
}

func newService(board *gpio.Board, cfg Config, reader *debounce.Reader, now func() time.Time) *Service {
	c := logic.NewController(cfg.SafetyOffTicks)
	s := &Service{
		board:      board,
		controller: c,
		reader:     reader,
		now:        now,
		led:        output.NewLED(board.LED, c.FlashCounter(), cfg.FlashTicks),
		relay:      output.NewRelay(board.Relay, board.Debug),
		shutdown:   output.NewLevel(board.ShutdownRequest),
	}
	s.inputs = inputs{s: s}
	return s
}

// Init drives every output to its power-up level (all deasserted).
func (s *Service) Init() error {
	return s.render()
}

// Poll reads the debounced button, steps the controller and renders the
// outputs. It returns the transitions that happened, stamped with now.
// Poll never blocks beyond the debounce delay.
func (s *Service) Poll() []logic.Event {
	events := s.controller.Poll(&s.inputs)

	if err := s.render(); err != nil {
		s.faults.report("output", err)
	} else {
		s.faults.clear("output")
	}

	if len(events) == 0 {
		return nil
	}
	t := s.now()
	for i := range events {
		events[i].Timestamp = t
	}
	return events
}

func (s *Service) render() error {
	targets := s.controller.Targets()
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(s.led.Render(&targets.LED))
	keep(s.relay.Render(&targets.Relay))
	keep(s.shutdown.Set(s.controller.ShutdownRequested()))
	return first
}

// Tick runs the tick handler once. Safe to call concurrently with Poll.
func (s *Service) Tick() {
	s.controller.Tick()
}

// RunTicks calls Tick for every value received on tick until ctx is done
// or tick is closed.
func (s *Service) RunTicks(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-tick:
			if !ok {
				return
			}
			s.controller.Tick()
		}
	}
}

// ReadInputs returns one debounced sample of each input line.
func (s *Service) ReadInputs() (button, confirm bool, err error) {
	button, err = s.reader.Read(s.board.Button)
	if err != nil {
		return false, false, err
	}
	confirm, err = s.reader.Read(s.board.Confirm)
	if err != nil {
		return false, false, err
	}
	return button, confirm, nil
}

// Status returns the current controller and output state.
// It must be called from the goroutine that calls Poll.
func (s *Service) Status() Status {
	t := s.controller.Targets()
	return Status{
		State:              s.controller.State(),
		LED:                t.LED,
		Relay:              t.Relay,
		LEDOn:              s.led.On(),
		RelayOn:            s.relay.On(),
		ShutdownRequested:  s.shutdown.On(),
		SafetyOffEnabled:   s.controller.SafetyOffEnabled(),
		SafetyOffRemaining: s.controller.SafetyOffRemaining(),
		Counts:             s.controller.Counts(),
	}
}

// Counts returns the transition counts since startup.
func (s *Service) Counts() logic.EventCounts {
	return s.controller.Counts()
}

// inputs adapts the board lines to logic.Inputs through the debouncer.
type inputs struct {
	s *Service
}

func (in *inputs) Pressed() bool {
	return in.s.read("button", in.s.board.Button)
}

func (in *inputs) Confirmed() bool {
	return in.s.read("confirm", in.s.board.Confirm)
}

func (s *Service) read(name string, line gpio.Input) bool {
	on, err := s.reader.Read(line)
	if err != nil {
		s.faults.report(name, err)
		return false
	}
	s.faults.clear(name)
	return on
}

// faultLog logs a fault once when it starts and once when it clears,
// so a dead line does not flood the log at the poll rate.
type faultLog struct {
	active map[string]bool
}

func (f *faultLog) report(name string, err error) {
	if f.active == nil {
		f.active = make(map[string]bool)
	}
	if f.active[name] {
		return
	}
	f.active[name] = true
	log.Error().Err(err).Str("line", name).Msg("gpio fault")
}

func (f *faultLog) clear(name string) {
	if !f.active[name] {
		return
	}
	delete(f.active, name)
	log.Info().Str("line", name).Msg("gpio fault cleared")
}
