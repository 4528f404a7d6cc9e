//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Detect returns a ChipProvider when the default GPIO character device is
// present, and Unsupported otherwise.
func Detect() Provider {
	if _, err := os.Stat("/dev/" + DefaultChip); err != nil {
		return Unsupported{}
	}
	return NewChipProvider()
}

// ChipProvider binds lines through the Linux GPIO character device.
// Chips are opened lazily and shared between lines.
type ChipProvider struct {
	mu    sync.Mutex
	chips map[string]*gpiocdev.Chip
}

// NewChipProvider creates a provider for the Linux GPIO character device.
func NewChipProvider() *ChipProvider {
	return &ChipProvider{chips: make(map[string]*gpiocdev.Chip)}
}

// Bind requests pin as an input with the given bias.
func (p *ChipProvider) Bind(pin Pin, bias Bias) (Line, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chip, ok := p.chips[pin.Chip]
	if !ok {
		c, err := gpiocdev.NewChip(pin.Chip)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: open %s: %v", ErrUnsupported, pin.Chip, err)
			}
			return nil, fmt.Errorf("open gpio chip %s: %w", pin.Chip, err)
		}
		p.chips[pin.Chip] = c
		chip = c
	}

	line, err := chip.RequestLine(pin.Offset, gpiocdev.AsInput, biasOption(bias))
	if err != nil {
		return nil, fmt.Errorf("request pin %s: %w", pin, err)
	}
	return &chipLine{line: line}, nil
}

// Close releases all opened chips.
func (p *ChipProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, c := range p.chips {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip %s: %w", name, err))
		}
		delete(p.chips, name)
	}
	return errors.Join(errs...)
}

func biasOption(b Bias) gpiocdev.LineBias {
	switch b {
	case BiasPullUp:
		return gpiocdev.WithPullUp
	case BiasPullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasDisabled
	}
}

type chipLine struct {
	line *gpiocdev.Line
}

func (l *chipLine) Level() (bool, error) {
	v, err := l.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line %d: %w", l.line.Offset(), err)
	}
	return v != 0, nil
}

// Close returns the line to input with pull-down (matching Pi boot defaults)
// before releasing it, so attached hardware sees a known state at reboot.
func (l *chipLine) Close() error {
	var errs []error
	if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line %d: %w", l.line.Offset(), err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line %d: %w", l.line.Offset(), err))
	}
	return errors.Join(errs...)
}
