package gpio

// Unsupported is the provider used on hosts without GPIO hardware.
// Every Bind fails with ErrUnsupported.
type Unsupported struct{}

// Bind always returns ErrUnsupported.
func (Unsupported) Bind(Pin, Bias) (Line, error) {
	return nil, ErrUnsupported
}

// Close is a no-op.
func (Unsupported) Close() error {
	return nil
}
