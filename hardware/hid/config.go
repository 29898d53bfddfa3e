package hid

import (
	"time"

	hidapi "github.com/sstallion/go-hid"
)

type Config struct {
	VendorID  uint16
	ProductID uint16
	// UsagePage/Usage narrow enumeration to the vendor interface, 0 = any.
	UsagePage uint16
	Usage     uint16
	Serial    string

	// ReadPoll bounds one blocking read so teardown is prompt. Default 100ms.
	ReadPoll time.Duration
	// Buffer is the inbound report channel capacity. Default 16.
	Buffer int

	testhw *hardware
}

// hardware isolates hidapi entry points so tests run without a device.
type hardware struct {
	enumerate func(vid, pid uint16, f func(*hidapi.DeviceInfo) error) error
	open      func(path string) (reportDev, error)
}

type reportDev interface {
	Write(p []byte) (int, error)
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

func realHardware() (*hardware, error) {
	if err := hidapi.Init(); err != nil {
		return nil, err
	}
	return &hardware{
		enumerate: func(vid, pid uint16, f func(*hidapi.DeviceInfo) error) error {
			return hidapi.Enumerate(vid, pid, f)
		},
		open: func(path string) (reportDev, error) {
			return hidapi.OpenPath(path)
		},
	}, nil
}
