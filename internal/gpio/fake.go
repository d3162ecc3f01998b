package gpio

import "errors"

// FakeInput is a test double that returns scripted logical values.
type FakeInput struct {
	// Samples contains scripted values to return.
	// Each call to Read() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Reads counts calls to Read
	Reads int

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeInput creates a FakeInput with the given samples.
func NewFakeInput(samples ...bool) *FakeInput {
	return &FakeInput{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInput) Read() (bool, error) {
	f.Reads++
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Set replaces the script with a single value returned forever.
func (f *FakeInput) Set(v bool) {
	f.Samples = []bool{v}
	f.index = 0
}

// Reset rewinds the script to the beginning.
func (f *FakeInput) Reset() {
	f.index = 0
	f.Reads = 0
}

// FakeOutput records writes for test assertions.
type FakeOutput struct {
	// Level is the last value written.
	Level bool

	// Writes counts calls to Write that succeeded.
	Writes int

	// Transitions counts writes that changed Level.
	Transitions int

	// WriteError, if set, will be returned by Write().
	WriteError error
}

// NewFakeOutput creates a FakeOutput at the deasserted level.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Write records the new level.
func (f *FakeOutput) Write(on bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Writes++
	if on != f.Level {
		f.Transitions++
	}
	f.Level = on
	return nil
}

// NewFakeBoard returns a board wired entirely to fakes, with the debug
// line enabled. Inputs start deasserted.
func NewFakeBoard() (*Board, *FakeLines) {
	l := &FakeLines{
		Button:          NewFakeInput(false),
		Confirm:         NewFakeInput(false),
		LED:             NewFakeOutput(),
		Relay:           NewFakeOutput(),
		ShutdownRequest: NewFakeOutput(),
		Debug:           NewFakeOutput(),
	}
	b := &Board{
		Button:          l.Button,
		Confirm:         l.Confirm,
		LED:             l.LED,
		Relay:           l.Relay,
		ShutdownRequest: l.ShutdownRequest,
		Debug:           l.Debug,
	}
	b.onClose(func() error {
		l.Closed = true
		return nil
	})
	return b, l
}

// FakeLines gives tests typed access to the fakes behind a fake board.
type FakeLines struct {
	Button          *FakeInput
	Confirm         *FakeInput
	LED             *FakeOutput
	Relay           *FakeOutput
	ShutdownRequest *FakeOutput
	Debug           *FakeOutput

	// Closed tracks if the board was closed
	Closed bool
}
