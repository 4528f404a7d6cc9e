//go:build !linux

package gpio

// Detect returns Unsupported; the GPIO character device requires Linux.
func Detect() Provider {
	return Unsupported{}
}
