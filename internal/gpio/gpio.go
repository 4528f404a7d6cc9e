// Package gpio provides digital input reading with hardware abstraction.
// The chip implementation uses the Linux GPIO character device.
// The Unsupported provider stands in on hosts without GPIO hardware, and the
// fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnsupported is returned by providers on hosts without GPIO hardware.
	ErrUnsupported = errors.New("gpio: device not supported")

	// ErrUnknownPin is returned when a pin name cannot be resolved.
	ErrUnknownPin = errors.New("gpio: unknown pin")

	// ErrUnknownBias is returned when a bias name cannot be parsed.
	ErrUnknownBias = errors.New("gpio: unknown bias")
)

// Provider binds input lines on a GPIO device.
type Provider interface {
	// Bind requests pin as an input with the given bias.
	// Returns ErrUnsupported if the host has no usable GPIO device.
	Bind(pin Pin, bias Bias) (Line, error)

	// Close releases the device.
	Close() error
}

// Line is a bound input line.
type Line interface {
	// Level returns the current raw level (true = high).
	Level() (bool, error)

	// Close releases the line.
	Close() error
}

// Bias is the resistor configuration applied to an input line.
type Bias int8

const (
	BiasNone Bias = iota
	BiasPullUp
	BiasPullDown
)

func (b Bias) String() string {
	switch b {
	case BiasPullUp:
		return "up"
	case BiasPullDown:
		return "down"
	default:
		return "none"
	}
}

// ParseBias accepts the configuration spellings of a bias.
// The empty string means no bias.
func ParseBias(s string) (Bias, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off", "disabled":
		return BiasNone, nil
	case "up", "pull_up", "pull-up", "pullup":
		return BiasPullUp, nil
	case "down", "pull_down", "pull-down", "pulldown":
		return BiasPullDown, nil
	}
	return BiasNone, fmt.Errorf("%w: %q", ErrUnknownBias, s)
}

// DefaultChip is the chip used for pins named without an explicit chip.
const DefaultChip = "gpiochip0"

// maxBCM is the highest line offset on the Raspberry Pi main GPIO bank.
const maxBCM = 53

// Pin identifies one line on a GPIO chip.
type Pin struct {
	Name   string // name as configured
	Chip   string
	Offset int
}

func (p Pin) String() string {
	return fmt.Sprintf("%s:%d", p.Chip, p.Offset)
}

// headerPins maps Raspberry Pi 40-pin header positions to BCM line offsets.
var headerPins = map[int]int{
	3: 2, 5: 3, 7: 4, 8: 14, 10: 15, 11: 17, 12: 18, 13: 27, 15: 22, 16: 23,
	18: 24, 19: 10, 21: 9, 22: 25, 23: 11, 24: 8, 26: 7, 27: 0, 28: 1, 29: 5,
	31: 6, 32: 12, 33: 13, 35: 19, 36: 16, 37: 26, 38: 20, 40: 21,
}

// ParsePin resolves a logical pin name to a chip line. Accepted forms:
//
//	GPIO17, BCM17, D17, 17  BCM numbering on DefaultChip
//	PIN11, P1-11            physical header position
//	gpiochip1:5             explicit chip and offset
//
// Unknown names are rejected here so bad configuration fails at load time.
func ParsePin(name string) (Pin, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if s == "" {
		return Pin{}, fmt.Errorf("%w: empty name", ErrUnknownPin)
	}

	if chip, off, ok := strings.Cut(s, ":"); ok {
		n, err := strconv.Atoi(off)
		if err != nil || n < 0 || !strings.HasPrefix(chip, "GPIOCHIP") {
			return Pin{}, fmt.Errorf("%w: %q", ErrUnknownPin, name)
		}
		return Pin{Name: name, Chip: strings.ToLower(chip), Offset: n}, nil
	}

	for _, prefix := range []string{"PIN", "P1-"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			n, err := strconv.Atoi(rest)
			if err != nil {
				return Pin{}, fmt.Errorf("%w: %q", ErrUnknownPin, name)
			}
			off, ok := headerPins[n]
			if !ok {
				return Pin{}, fmt.Errorf("%w: header pin %d is not a GPIO", ErrUnknownPin, n)
			}
			return Pin{Name: name, Chip: DefaultChip, Offset: off}, nil
		}
	}

	rest := s
	for _, prefix := range []string{"GPIO", "BCM", "D"} {
		if r, ok := strings.CutPrefix(s, prefix); ok {
			rest = r
			break
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 || n > maxBCM {
		return Pin{}, fmt.Errorf("%w: %q", ErrUnknownPin, name)
	}
	return Pin{Name: name, Chip: DefaultChip, Offset: n}, nil
}
