package client

import (
	"bytes"
	"crypto/rand"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"

	"github.com/keywire/keywire/report"
)

// Client lease: the channel is shared by possibly-concurrent clients, so
// every command carries a time-bounded client id obtained through a
// nonce-challenge bootstrap. All lease work runs on the dispatch
// goroutine, which makes single-flight structural: concurrent callers
// queue behind one bootstrap instead of duplicating it, and the renewal
// op goes through the same path.

const leaseSafetyNum, leaseSafetyDen = 9, 10 // use 90% of ttl

func (self *Client) leaseValid() bool {
	return self.LeaseID() != 0 && atomic_clock.Since(&self.leaseExpiry) < 0
}

func (self *Client) ensureLease(reports <-chan []byte) error {
	if self.leaseValid() {
		return nil
	}
	return self.bootstrap(reports)
}

// renew runs on the timer-scheduled op. Failure is reported and retried
// under backoff; the lease also stays eligible for re-bootstrap on the
// next command, so the manager itself never dies.
func (self *Client) renew(reports <-chan []byte) error {
	err := self.bootstrap(reports)
	if err != nil {
		self.Log.Errorf("%s lease renew err=%v", modName, err)
		self.renewBackoff.Failure()
		self.scheduleRenew(self.renewBackoff.Next())
		return err
	}
	self.renewBackoff.Reset()
	return nil
}

func (self *Client) bootstrap(reports <-chan []byte) error {
	nonce := make([]byte, report.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Annotate(err, "bootstrap nonce")
	}
	req, err := report.Bootstrap(nonce)
	if err != nil {
		return err
	}

	attempts := self.cfg.bootstrapAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = self.porter.Send(req.Bytes()); err != nil {
			return errors.Annotatef(err, "bootstrap send attempt=%d", attempt)
		}
		var id uint32
		var ttl uint16
		id, ttl, err = self.readBootstrap(reports, nonce)
		switch {
		case err == nil:
			self.setLease(id, ttl)
			atomic.AddUint32(&self.stat.Bootstrap, 1)
			self.Log.Infof("%s lease client=%d ttl=%ds", modName, id, ttl)
			return nil
		case errors.IsTimeout(err):
			// reports get lost on this channel, resend
			self.Log.Debugf("%s bootstrap attempt=%d/%d no match, resend", modName, attempt, attempts)
		default:
			return err
		}
	}
	return errors.Errorf("%s bootstrap gave up after %d attempts", modName, attempts)
}

// readBootstrap inspects inbound reports until one fully matches:
// wrapper byte, client id 0 and byte-for-byte nonce echo. Anything else is
// another client's traffic or noise and never terminates the attempt.
func (self *Client) readBootstrap(reports <-chan []byte, nonce []byte) (uint32, uint16, error) {
	tmr := time.NewTimer(self.cfg.bootstrapTimeout())
	defer tmr.Stop()
	for reads := 0; reads < self.cfg.bootstrapReads(); {
		select {
		case b, ok := <-reports:
			if !ok {
				return 0, 0, ErrClosed
			}
			reads++
			r, err := report.Parse(b)
			if err != nil {
				continue
			}
			if !r.Valid() {
				continue
			}
			if r.ClientID() != 0 {
				continue
			}
			if !bytes.Equal(r.NonceEcho(), nonce) {
				// concurrent bootstrap by another client
				continue
			}
			id, ttl := r.BootstrapResult()
			if id == report.BootstrapErrorID {
				return 0, 0, BootstrapError{Code: r.BootstrapErrorCode()}
			}
			if id == 0 {
				return 0, 0, errors.NotValidf("bootstrap response client id 0")
			}
			return id, ttl, nil
		case <-tmr.C:
			return 0, 0, errors.Timeoutf("bootstrap attempt")
		}
	}
	return 0, 0, errors.Timeoutf("bootstrap read budget")
}

func (self *Client) setLease(id uint32, ttl uint16) {
	safe := time.Duration(ttl) * time.Second * leaseSafetyNum / leaseSafetyDen
	atomic.StoreUint32(&self.leaseID, id)
	self.leaseExpiry.Set(atomic_clock.Source() + int64(safe))
	self.scheduleRenew(safe)
}

func (self *Client) resetLease() {
	atomic.StoreUint32(&self.leaseID, 0)
	self.leaseExpiry.Set(0)
}
