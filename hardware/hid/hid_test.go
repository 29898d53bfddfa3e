package hid

import (
	"io"
	"sync"
	"testing"
	"time"

	hidapi "github.com/sstallion/go-hid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keywire/keywire/log2"
	"github.com/keywire/keywire/report"
)

type mockDev struct {
	mu     sync.Mutex
	wrote  [][]byte
	inCh   chan []byte
	closed bool
}

func newMockDev() *mockDev { return &mockDev{inCh: make(chan []byte, 8)} }

func (m *mockDev) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := make([]byte, len(p))
	copy(b, p)
	m.wrote = append(m.wrote, b)
	return len(p), nil
}

func (m *mockDev) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	select {
	case b, ok := <-m.inCh:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, b), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (m *mockDev) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func testConfig(dev *mockDev, infos ...hidapi.DeviceInfo) *Config {
	return &Config{
		VendorID:  0x05AC,
		ProductID: 0x1234,
		UsagePage: 0xFF60,
		ReadPoll:  10 * time.Millisecond,
		testhw: &hardware{
			enumerate: func(vid, pid uint16, f func(*hidapi.DeviceInfo) error) error {
				for i := range infos {
					if err := f(&infos[i]); err != nil {
						return err
					}
				}
				return nil
			},
			open: func(path string) (reportDev, error) { return dev, nil },
		},
	}
}

func vendorInfo(path string) hidapi.DeviceInfo {
	return hidapi.DeviceInfo{Path: path, VendorID: 0x05AC, ProductID: 0x1234, UsagePage: 0xFF60}
}

func TestOpenNoMatch(t *testing.T) {
	t.Parallel()

	cfg := testConfig(newMockDev())
	_, err := Open(cfg, log2.NewTest(t, log2.LDebug))
	require.Error(t, err)
	var ambiguous AmbiguousDeviceError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, 0, ambiguous.Matches)
}

func TestOpenTwoMatches(t *testing.T) {
	t.Parallel()

	cfg := testConfig(newMockDev(), vendorInfo("a"), vendorInfo("b"))
	_, err := Open(cfg, log2.NewTest(t, log2.LDebug))
	var ambiguous AmbiguousDeviceError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, 2, ambiguous.Matches)
}

func TestOpenFiltersUsagePage(t *testing.T) {
	t.Parallel()

	other := vendorInfo("keyboard-boot-iface")
	other.UsagePage = 0x01
	cfg := testConfig(newMockDev(), other, vendorInfo("vendor-iface"))
	tr, err := Open(cfg, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	assert.Equal(t, "vendor-iface", tr.Info().Path)
	require.NoError(t, tr.Close())
}

func TestSendPrependsReportNumber(t *testing.T) {
	t.Parallel()

	dev := newMockDev()
	tr, err := Open(testConfig(dev, vendorInfo("x")), log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	defer tr.Close()

	out := make([]byte, report.Size)
	out[0] = report.Wrapper
	require.NoError(t, tr.Send(out))

	dev.mu.Lock()
	defer dev.mu.Unlock()
	require.Len(t, dev.wrote, 1)
	assert.Equal(t, byte(0), dev.wrote[0][0])
	assert.Equal(t, out, dev.wrote[0][1:])
	assert.Len(t, dev.wrote[0], 1+report.Size)
}

func TestSendWrongSize(t *testing.T) {
	t.Parallel()

	dev := newMockDev()
	tr, err := Open(testConfig(dev, vendorInfo("x")), log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	defer tr.Close()
	require.Error(t, tr.Send([]byte{1, 2, 3}))
}

func TestReadDelivery(t *testing.T) {
	t.Parallel()

	dev := newMockDev()
	tr, err := Open(testConfig(dev, vendorInfo("x")), log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	defer tr.Close()

	in := make([]byte, report.Size)
	in[0] = report.Wrapper
	in[5] = report.TagExtension
	dev.inCh <- in

	select {
	case b := <-tr.Reports():
		assert.Equal(t, in, b)
	case <-time.After(time.Second):
		t.Fatal("no report delivered")
	}
}

func TestDisconnectClosesStream(t *testing.T) {
	t.Parallel()

	dev := newMockDev()
	tr, err := Open(testConfig(dev, vendorInfo("x")), log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)

	close(dev.inCh) // read error = device gone

	select {
	case _, ok := <-tr.Reports():
		assert.False(t, ok, "stream must close on disconnect")
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
	require.Error(t, tr.Send(make([]byte, report.Size)))
	require.NoError(t, tr.Close())
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	dev := newMockDev()
	tr, err := Open(testConfig(dev, vendorInfo("x")), log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, dev.closed)
}
