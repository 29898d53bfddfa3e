// Package hid owns one physical device handle: it sends fixed-size output
// reports and streams inbound reports to a single subscriber. No protocol
// state lives here.
package hid

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	hidapi "github.com/sstallion/go-hid"
	"github.com/temoto/alive/v2"

	"github.com/keywire/keywire/log2"
	"github.com/keywire/keywire/report"
)

const modName = "hid"

const (
	DefaultReadPoll = 100 * time.Millisecond
	DefaultBuffer   = 16
)

var ErrClosed = errors.New("hid: device closed")

// AmbiguousDeviceError: open requires exactly one matching device.
type AmbiguousDeviceError struct {
	Matches int
	Filter  string
}

func (e AmbiguousDeviceError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("hid: no device matches %s", e.Filter)
	}
	return fmt.Sprintf("hid: %d devices match %s, need exactly one", e.Matches, e.Filter)
}

// Trans is the transport for one opened device.
type Trans struct {
	Log  *log2.Log
	cfg  Config
	dev  reportDev
	info hidapi.DeviceInfo

	alive    *alive.Alive
	reports  chan []byte
	closeLk  sync.Mutex
	closed   bool
	closeErr error
}

// Open enumerates with cfg filters and claims the single match.
// Zero or multiple matches fail with AmbiguousDeviceError.
func Open(cfg *Config, log *log2.Log) (*Trans, error) {
	hw := cfg.testhw
	if hw == nil {
		var err error
		if hw, err = realHardware(); err != nil {
			return nil, errors.Annotate(err, "hidapi init")
		}
	}

	filter := fmt.Sprintf("vid=%04x pid=%04x usage_page=%04x usage=%04x serial=%q",
		cfg.VendorID, cfg.ProductID, cfg.UsagePage, cfg.Usage, cfg.Serial)
	matches := make([]hidapi.DeviceInfo, 0, 2)
	err := hw.enumerate(cfg.VendorID, cfg.ProductID, func(info *hidapi.DeviceInfo) error {
		if cfg.UsagePage != 0 && info.UsagePage != cfg.UsagePage {
			return nil
		}
		if cfg.Usage != 0 && info.Usage != cfg.Usage {
			return nil
		}
		if cfg.Serial != "" && info.SerialNbr != cfg.Serial {
			return nil
		}
		matches = append(matches, *info)
		return nil
	})
	if err != nil {
		return nil, errors.Annotatef(err, "%s enumerate %s", modName, filter)
	}
	if len(matches) != 1 {
		return nil, AmbiguousDeviceError{Matches: len(matches), Filter: filter}
	}

	dev, err := hw.open(matches[0].Path)
	if err != nil {
		return nil, errors.Annotatef(err, "%s open path=%s", modName, matches[0].Path)
	}

	self := &Trans{
		Log:     log,
		cfg:     *cfg,
		dev:     dev,
		info:    matches[0],
		alive:   alive.NewAlive(),
		reports: make(chan []byte, cfg.buffer()),
	}
	self.alive.Add(1)
	go self.readLoop()
	log.Debugf("%s open path=%s product=%s", modName, matches[0].Path, matches[0].ProductStr)
	return self, nil
}

func (c *Config) readPoll() time.Duration {
	if c.ReadPoll == 0 {
		return DefaultReadPoll
	}
	return c.ReadPoll
}

func (c *Config) buffer() int {
	if c.Buffer == 0 {
		return DefaultBuffer
	}
	return c.Buffer
}

func (self *Trans) Info() hidapi.DeviceInfo { return self.info }

// Reports is the single-subscriber inbound stream. Subscribe before
// sending or responses can be missed. Closed on disconnect and on Close.
func (self *Trans) Reports() <-chan []byte { return self.reports }

// StopChan closes when teardown begins, for either reason.
func (self *Trans) StopChan() <-chan struct{} { return self.alive.StopChan() }

func (self *Trans) Send(b []byte) error {
	if len(b) != report.Size {
		return errors.NotValidf("%s send length=%d expected=%d", modName, len(b), report.Size)
	}
	if !self.alive.IsRunning() {
		return ErrClosed
	}
	self.Log.Debugf("%s send %x", modName, b)
	// HID report number 0 prefixes every output report
	buf := make([]byte, 1+report.Size)
	copy(buf[1:], b)
	if _, err := self.dev.Write(buf); err != nil {
		return errors.Annotatef(err, "%s write", modName)
	}
	return nil
}

// Close tears down handle and read loop, idempotently.
func (self *Trans) Close() error {
	self.closeLk.Lock()
	defer self.closeLk.Unlock()
	if self.closed {
		return self.closeErr
	}
	self.closed = true
	self.alive.Stop()
	self.alive.Wait()
	self.closeErr = self.dev.Close()
	return self.closeErr
}

func (self *Trans) readLoop() {
	defer self.alive.Done()
	defer close(self.reports)

	buf := make([]byte, report.Size)
	for self.alive.IsRunning() {
		n, err := self.dev.ReadWithTimeout(buf, self.cfg.readPoll())
		if err != nil {
			if self.alive.IsRunning() {
				self.Log.Errorf("%s read err=%v, tearing down", modName, err)
				self.alive.Stop()
			}
			return
		}
		if n == 0 {
			// poll timeout
			continue
		}
		self.Log.Debugf("%s recv %x", modName, buf[:n])
		b := make([]byte, n)
		copy(b, buf[:n])
		select {
		case self.reports <- b:
		default:
			self.Log.Errorf("%s inbound buffer full, report dropped", modName)
		}
	}
}
