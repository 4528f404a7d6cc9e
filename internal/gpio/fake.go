package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// FakeProvider is a test double that hands out FakeLines keyed by pin offset.
type FakeProvider struct {
	mu    sync.Mutex
	lines map[int]*FakeLine

	// BindError, if set, will be returned by Bind.
	BindError error

	// Bound records the bias each pin offset was bound with.
	Bound map[int]Bias

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeProvider creates an empty FakeProvider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		lines: make(map[int]*FakeLine),
		Bound: make(map[int]Bias),
	}
}

// Line returns the fake line for offset, creating it if needed.
// Tests use it to script levels before or after Bind.
func (p *FakeProvider) Line(offset int) *FakeLine {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.lines[offset]
	if !ok {
		l = &FakeLine{}
		p.lines[offset] = l
	}
	return l
}

// Bind returns the fake line for pin.Offset.
func (p *FakeProvider) Bind(pin Pin, bias Bias) (Line, error) {
	if p.BindError != nil {
		return nil, p.BindError
	}
	l := p.Line(pin.Offset)
	p.mu.Lock()
	p.Bound[pin.Offset] = bias
	p.mu.Unlock()
	return l, nil
}

// Close marks the provider as closed.
func (p *FakeProvider) Close() error {
	p.mu.Lock()
	p.Closed = true
	p.mu.Unlock()
	return nil
}

// FakeLine returns scripted levels. With Samples set, each Level call
// consumes the next sample and repeats the last one once exhausted;
// otherwise it returns the value set with Set.
type FakeLine struct {
	mu      sync.Mutex
	level   bool
	samples []bool
	index   int

	// ReadError, if set, will be returned by Level.
	ReadError error

	closed bool
}

// Set fixes the level returned by Level and clears any scripted samples.
func (l *FakeLine) Set(level bool) {
	l.mu.Lock()
	l.level = level
	l.samples = nil
	l.index = 0
	l.mu.Unlock()
}

// Script replaces the scripted samples.
func (l *FakeLine) Script(samples ...bool) {
	l.mu.Lock()
	l.samples = samples
	l.index = 0
	l.mu.Unlock()
}

// SetError makes subsequent Level calls fail with err (nil clears it).
func (l *FakeLine) SetError(err error) {
	l.mu.Lock()
	l.ReadError = err
	l.mu.Unlock()
}

// Level returns the next scripted level.
func (l *FakeLine) Level() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, errors.New("fake line closed")
	}
	if l.ReadError != nil {
		return false, fmt.Errorf("fake line: %w", l.ReadError)
	}
	if len(l.samples) == 0 {
		return l.level, nil
	}
	v := l.samples[l.index]
	if l.index < len(l.samples)-1 {
		l.index++
	}
	return v, nil
}

// Close marks the line as closed.
func (l *FakeLine) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// IsClosed reports whether Close was called.
func (l *FakeLine) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
