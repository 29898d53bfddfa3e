package client

import (
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/keywire/keywire/report"
)

// worker owns the wire. Ops arrive on an unbuffered channel, so channel
// receive order is the FIFO: at most one request/response exchange is in
// flight and request N+1 is not sent before N resolved, rejected or timed
// out. A stray inbound report between exchanges is a late reply to a
// timed-out command and is dropped here.
//
// Known gap, kept on purpose: a late reply arriving exactly when the next
// exchange starts is indistinguishable from that exchange's genuine
// response, because matching has only wrapper prefix + client id + tag to
// go on. The protocol has no per-command sequence number outside
// bootstrap, so this cannot be closed client-side.
func (self *Client) worker() {
	defer self.alive.Done()
	reports := self.porter.Reports()
	for {
		select {
		case o := <-self.ops:
			o.done <- self.run(o, reports)
		case _, ok := <-reports:
			if !ok {
				self.teardown()
				return
			}
			self.Log.Debugf("%s stray report dropped (late reply?)", modName)
		case <-self.alive.StopChan():
			self.teardown()
			return
		}
	}
}

func (self *Client) run(o *op, reports <-chan []byte) opResult {
	atomic.AddUint32(&self.stat.Request, 1)

	if o.kind == opRenew {
		atomic.AddUint32(&self.stat.Renew, 1)
		err := self.renew(reports)
		if err != nil {
			atomic.AddUint32(&self.stat.Error, 1)
		}
		return opResult{err: err}
	}

	if err := self.ensureLease(reports); err != nil {
		atomic.AddUint32(&self.stat.Error, 1)
		return opResult{err: errors.Annotate(err, "lease")}
	}

	id := self.LeaseID()
	req, err := report.Command(id, o.tag, o.cmd, o.args)
	if err != nil {
		return opResult{err: err}
	}
	if err = self.porter.Send(req.Bytes()); err != nil {
		atomic.AddUint32(&self.stat.Error, 1)
		return opResult{err: errors.Annotatef(err, "%s cmd=%02x send", modName, o.cmd)}
	}

	tmr := time.NewTimer(o.timeout)
	defer tmr.Stop()
	for {
		select {
		case b, ok := <-reports:
			if !ok {
				return opResult{err: ErrClosed}
			}
			r, err := report.Parse(b)
			if err != nil {
				self.Log.Errorf("%s inbound %v", modName, err)
				continue
			}
			if !r.Valid() || r.ClientID() != id || r.Tag() != o.tag {
				continue
			}
			payload := r.Payload()
			if o.tag == report.TagExtension && payload[0] == report.ExtensionError {
				atomic.AddUint32(&self.stat.Error, 1)
				return opResult{err: DeviceError{Code: payload[1]}}
			}
			if o.validate != nil && !o.validate(payload) {
				continue
			}
			if o.shape == nil {
				out := make([]byte, len(payload))
				copy(out, payload)
				return opResult{v: out}
			}
			v, err := o.shape.Decode(payload)
			if err != nil {
				atomic.AddUint32(&self.stat.Error, 1)
				return opResult{err: errors.Annotatef(err, "%s cmd=%02x decode", modName, o.cmd)}
			}
			return opResult{v: v}
		case <-tmr.C:
			atomic.AddUint32(&self.stat.Timeout, 1)
			return opResult{err: errors.Timeoutf("%s cmd=%02x no response in %s", modName, o.cmd, o.timeout)}
		}
	}
}

// teardown rejects queued ops, resets the lease and fires the disconnect
// callback unless Close initiated this.
func (self *Client) teardown() {
	self.alive.Stop()
	self.stopRenew()
	self.resetLease()
	for {
		select {
		case o := <-self.ops:
			o.done <- opResult{err: ErrClosed}
		default:
			if atomic.LoadUint32(&self.closeReq) == 0 {
				if f, ok := self.onDisconnect.Load().(func()); ok && f != nil {
					f()
				}
			}
			return
		}
	}
}
