package client

// Helpers for testing the client package: a channel-backed Porter with a
// scripted device on the other end.

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/keywire/keywire/log2"
	"github.com/keywire/keywire/report"
)

type tenv struct {
	t      *testing.T
	log    *log2.Log
	porter *mockPorter
	c      *Client
}

// deviceFunc plays the firmware: gets each outbound report, returns any
// reports the device sends back.
type deviceFunc func(r *report.Report) [][]byte

type mockPorter struct {
	t       testing.TB
	mu      sync.Mutex
	sent    [][]byte
	reports chan []byte
	device  deviceFunc
	closeMu sync.Mutex
	closed  bool
}

func newMockPorter(t testing.TB) *mockPorter {
	return &mockPorter{t: t, reports: make(chan []byte, 64)}
}

func (m *mockPorter) Send(b []byte) error {
	bc := make([]byte, len(b))
	copy(bc, b)
	m.mu.Lock()
	m.sent = append(m.sent, bc)
	device := m.device
	m.mu.Unlock()
	if device != nil {
		r, err := report.Parse(bc)
		if err != nil {
			m.t.Errorf("mock device got invalid report: %v", err)
			return nil
		}
		for _, resp := range device(&r) {
			m.push(resp)
		}
	}
	return nil
}

func (m *mockPorter) Reports() <-chan []byte { return m.reports }

func (m *mockPorter) Close() error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.reports)
	}
	return nil
}

func (m *mockPorter) push(b []byte) {
	select {
	case m.reports <- b:
	default:
		m.t.Error("mock reports buffer full")
	}
}

// sentAll returns recorded outbound reports, oldest first.
func (m *mockPorter) sentAll() []report.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]report.Report, 0, len(m.sent))
	for _, b := range m.sent {
		r, err := report.Parse(b)
		if err != nil {
			m.t.Fatal(err)
		}
		out = append(out, r)
	}
	return out
}

func (m *mockPorter) bootstrapSends() int {
	n := 0
	for _, r := range m.sentAll() {
		if r.ClientID() == 0 {
			n++
		}
	}
	return n
}

func testEnv(t *testing.T, device deviceFunc) *tenv {
	env := &tenv{
		t:      t,
		log:    log2.NewTest(t, log2.LDebug),
		porter: newMockPorter(t),
	}
	env.porter.device = device
	env.c = New(env.porter, &Config{
		Timeout:          200 * time.Millisecond,
		BootstrapTimeout: 100 * time.Millisecond,
	}, env.log)
	t.Cleanup(func() { env.c.Close() })
	return env
}

// leaseDevice answers every bootstrap with the echoed nonce and a fixed
// lease, and delegates leased traffic to next.
func leaseDevice(id uint32, ttl uint16, next deviceFunc) deviceFunc {
	return func(r *report.Report) [][]byte {
		if r.ClientID() == 0 {
			return [][]byte{bootstrapResponse(r, id, ttl)}
		}
		if next != nil {
			return next(r)
		}
		return nil
	}
}

func bootstrapResponse(req *report.Report, id uint32, ttl uint16) []byte {
	payload := make([]byte, 0, report.PayloadSize)
	payload = append(payload, req.Payload()[:report.NonceSize]...)
	payload = binary.LittleEndian.AppendUint32(payload, id)
	payload = binary.LittleEndian.AppendUint16(payload, ttl)
	resp := report.MustNew(0, report.TagExtension, payload)
	return resp.Bytes()
}

// echoDevice replies to every leased command with payload[0]=cmd echo and
// the given data after it.
func echoDevice(data ...byte) deviceFunc {
	return func(r *report.Report) [][]byte {
		cmd := r.Payload()[0]
		payload := append([]byte{cmd}, data...)
		resp := report.MustNew(r.ClientID(), r.Tag(), payload)
		return [][]byte{resp.Bytes()}
	}
}
