//go:build !linux

package boot

import "errors"

// Time returns the kernel boot time, UTC milliseconds since epoch.
// Not implemented on this platform; the detector falls back to "no
// reboot" and the processor's reset detection covers the gap.
func Time() (int64, error) {
	return 0, errors.New("boot: boot time not available on this platform")
}
