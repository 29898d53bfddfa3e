// Package client turns the packet-oriented, connectionless, multi-client
// HID channel into a reliable ordered request/response service. The wire
// protocol carries no per-request sequence number, only wrapper prefix and
// client id, so a single dispatch goroutine owns the transport and runs at
// most one exchange at a time. FIFO order is the correctness mechanism,
// not an optimization.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"

	"github.com/keywire/keywire/decode"
	"github.com/keywire/keywire/helpers"
	"github.com/keywire/keywire/log2"
	"github.com/keywire/keywire/report"
)

const modName = "client"

const (
	DefaultTimeout           = 1 * time.Second
	DefaultBootstrapAttempts = 5
	DefaultBootstrapReads    = 50
)

// Porter is the transport seam: hardware/hid.Trans in production,
// channel mocks in tests.
type Porter interface {
	Send(b []byte) error
	Reports() <-chan []byte
	Close() error
}

type Config struct {
	// Timeout bounds one command exchange. Default 1s.
	Timeout time.Duration
	// BootstrapAttempts is how many times the bootstrap request is resent
	// to tolerate report loss. Default 5.
	BootstrapAttempts int
	// BootstrapReads bounds inbound reports inspected per attempt. Default 50.
	BootstrapReads int
	// BootstrapTimeout bounds one attempt. Default = Timeout.
	BootstrapTimeout time.Duration
}

type Stat struct {
	Request   uint32
	Timeout   uint32
	Error     uint32
	Bootstrap uint32
	Renew     uint32
}

type Client struct {
	Log    *log2.Log
	cfg    Config
	porter Porter
	alive  *alive.Alive
	ops    chan *op
	stat   Stat

	// lease state is written only by the dispatch goroutine,
	// atomics allow cheap inspection from outside
	leaseID     uint32
	leaseExpiry atomic_clock.Clock

	renewLk      sync.Mutex
	renewTimer   *time.Timer
	renewBackoff helpers.Backoff

	onDisconnect atomic.Value // func()
	closeReq     uint32
	closeOnce    sync.Once
	closeErr     error
}

type opKind uint8

const (
	opCommand opKind = iota
	opRenew
)

type op struct {
	kind     opKind
	tag      byte
	cmd      byte
	args     []byte
	shape    decode.Shape
	validate func(payload []byte) bool
	timeout  time.Duration
	done     chan opResult
}

type opResult struct {
	v   interface{}
	err error
}

func New(p Porter, cfg *Config, log *log2.Log) *Client {
	self := &Client{
		Log:    log,
		porter: p,
		alive:  alive.NewAlive(),
		ops:    make(chan *op),
		renewBackoff: helpers.Backoff{
			Min: 1 * time.Second,
			Max: 30 * time.Second,
			K:   2,
		},
	}
	if cfg != nil {
		self.cfg = *cfg
	}
	self.alive.Add(1)
	go self.worker()
	return self
}

func (c *Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *Config) bootstrapAttempts() int {
	if c.BootstrapAttempts == 0 {
		return DefaultBootstrapAttempts
	}
	return c.BootstrapAttempts
}

func (c *Config) bootstrapReads() int {
	if c.BootstrapReads == 0 {
		return DefaultBootstrapReads
	}
	return c.BootstrapReads
}

func (c *Config) bootstrapTimeout() time.Duration {
	if c.BootstrapTimeout == 0 {
		return c.timeout()
	}
	return c.BootstrapTimeout
}

// Legacy sends a command on the legacy sub-protocol (tag 0xFE).
func (self *Client) Legacy(ctx context.Context, cmd byte, args []byte, shape decode.Shape) (interface{}, error) {
	return self.send(ctx, &op{tag: report.TagLegacy, cmd: cmd, args: args, shape: shape})
}

// Extension sends a command on the extension sub-protocol (tag 0xDF).
func (self *Client) Extension(ctx context.Context, cmd byte, args []byte, shape decode.Shape) (interface{}, error) {
	return self.send(ctx, &op{tag: report.TagExtension, cmd: cmd, args: args, shape: shape})
}

// ExtensionFiltered is Extension with a caller validator on the response
// payload, e.g. to match an echoed chunk offset.
func (self *Client) ExtensionFiltered(ctx context.Context, cmd byte, args []byte, shape decode.Shape, validate func(payload []byte) bool) (interface{}, error) {
	return self.send(ctx, &op{tag: report.TagExtension, cmd: cmd, args: args, shape: shape, validate: validate})
}

// OnDisconnect registers a callback fired once when the device goes away
// outside of Close. Runs on the dispatch goroutine.
func (self *Client) OnDisconnect(f func()) {
	self.onDisconnect.Store(f)
}

// LeaseID returns the current client id, 0 when unleased.
func (self *Client) LeaseID() uint32 { return atomic.LoadUint32(&self.leaseID) }

func (self *Client) Stat() Stat {
	return Stat{
		Request:   atomic.LoadUint32(&self.stat.Request),
		Timeout:   atomic.LoadUint32(&self.stat.Timeout),
		Error:     atomic.LoadUint32(&self.stat.Error),
		Bootstrap: atomic.LoadUint32(&self.stat.Bootstrap),
		Renew:     atomic.LoadUint32(&self.stat.Renew),
	}
}

func (self *Client) Close() error {
	self.closeOnce.Do(func() {
		atomic.StoreUint32(&self.closeReq, 1)
		self.stopRenew()
		self.alive.Stop()
		self.closeErr = self.porter.Close()
		self.alive.Wait()
	})
	return self.closeErr
}

func (self *Client) send(ctx context.Context, o *op) (interface{}, error) {
	o.done = make(chan opResult, 1)
	if o.timeout == 0 {
		o.timeout = self.cfg.timeout()
	}
	select {
	case self.ops <- o:
	case <-self.alive.StopChan():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// The exchange cannot be cancelled once queued: a sent command has no
	// abort on the wire. ctx return here abandons the buffered result only.
	select {
	case r := <-o.done:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (self *Client) enqueueRenew() {
	o := &op{kind: opRenew, done: make(chan opResult, 1)}
	select {
	case self.ops <- o:
	case <-self.alive.StopChan():
	}
}

func (self *Client) stopRenew() {
	self.renewLk.Lock()
	defer self.renewLk.Unlock()
	if self.renewTimer != nil {
		self.renewTimer.Stop()
		self.renewTimer = nil
	}
}

func (self *Client) scheduleRenew(d time.Duration) {
	self.renewLk.Lock()
	defer self.renewLk.Unlock()
	if self.renewTimer != nil {
		self.renewTimer.Stop()
	}
	if !self.alive.IsRunning() {
		return
	}
	self.renewTimer = time.AfterFunc(d, self.enqueueRenew)
}
