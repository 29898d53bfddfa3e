// Package report implements the fixed 32-byte vendor HID report format:
// byte0 wrapper 0xDD, bytes1-4 client id LE32 (0 during bootstrap),
// byte5 sub-protocol tag, bytes6-31 sub-protocol payload.
package report

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/juju/errors"
)

const (
	Size        = 32
	Wrapper     = byte(0xDD)
	PayloadSize = Size - payloadOffset

	TagLegacy    = byte(0xFE)
	TagExtension = byte(0xDF)

	// Extension payload byte 0 set to this marks an explicit device error,
	// error code follows in payload byte 1.
	ExtensionError = byte(0xFF)

	NonceSize = 20

	// Bootstrap response signals failure with this client id,
	// error code in the byte after it.
	BootstrapErrorID = uint32(0xFFFFFFFF)

	clientIDOffset = 1
	tagOffset      = 5
	payloadOffset  = 6

	// bootstrap response payload layout: nonce echo, new client id, ttl
	nonceEnd = NonceSize
	idEnd    = nonceEnd + 4
	ttlEnd   = idEnd + 2
)

var ErrPayloadOverflow = errors.New("report: payload larger than max")

// Report is one wire report, immutable once built.
type Report struct {
	b [Size]byte
}

func New(clientID uint32, tag byte, payload []byte) (Report, error) {
	var r Report
	if len(payload) > PayloadSize {
		return r, ErrPayloadOverflow
	}
	r.b[0] = Wrapper
	binary.LittleEndian.PutUint32(r.b[clientIDOffset:], clientID)
	r.b[tagOffset] = tag
	copy(r.b[payloadOffset:], payload)
	return r, nil
}

func MustNew(clientID uint32, tag byte, payload []byte) Report {
	r, err := New(clientID, tag, payload)
	if err != nil {
		panic(err)
	}
	return r
}

// Command builds the standard command payload: byte0 command id, rest args.
func Command(clientID uint32, tag, cmd byte, args []byte) (Report, error) {
	if len(args) > PayloadSize-1 {
		return Report{}, ErrPayloadOverflow
	}
	payload := make([]byte, 1+len(args))
	payload[0] = cmd
	copy(payload[1:], args)
	return New(clientID, tag, payload)
}

// Bootstrap builds the lease request: client id 0, payload = nonce.
func Bootstrap(nonce []byte) (Report, error) {
	if len(nonce) != NonceSize {
		return Report{}, errors.NotValidf("bootstrap nonce length=%d expected=%d", len(nonce), NonceSize)
	}
	return New(0, TagExtension, nonce)
}

// Parse interprets one inbound HID report. Short reports are transport
// defects, overlong input keeps the leading Size bytes.
func Parse(b []byte) (Report, error) {
	var r Report
	if len(b) < Size {
		return r, errors.NotValidf("report=%x length=%d < %d", b, len(b), Size)
	}
	copy(r.b[:], b)
	return r, nil
}

func FromHex(s string) (Report, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Report{}, err
	}
	return Parse(b)
}

func MustFromHex(s string) Report {
	r, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (self *Report) Bytes() []byte     { return self.b[:] }
func (self *Report) Wrapper() byte     { return self.b[0] }
func (self *Report) Tag() byte         { return self.b[tagOffset] }
func (self *Report) Payload() []byte   { return self.b[payloadOffset:] }
func (self *Report) ClientID() uint32  { return binary.LittleEndian.Uint32(self.b[clientIDOffset:]) }
func (self *Report) Valid() bool       { return self.b[0] == Wrapper }
func (self *Report) Equal(r2 *Report) bool {
	return bytes.Equal(self.b[:], r2.b[:])
}

// NonceEcho is the echoed bootstrap nonce.
func (self *Report) NonceEcho() []byte { return self.Payload()[:nonceEnd] }

// BootstrapResult extracts new client id and ttl from a bootstrap response.
func (self *Report) BootstrapResult() (clientID uint32, ttlSeconds uint16) {
	p := self.Payload()
	clientID = binary.LittleEndian.Uint32(p[nonceEnd:idEnd])
	ttlSeconds = binary.LittleEndian.Uint16(p[idEnd:ttlEnd])
	return
}

// BootstrapErrorCode is only meaningful when BootstrapResult returned
// BootstrapErrorID.
func (self *Report) BootstrapErrorCode() byte { return self.Payload()[idEnd] }

func (self *Report) Format() string {
	h := hex.EncodeToString(self.b[:])
	hlen := len(h)
	ss := make([]string, (hlen/8)+1)
	for i := range ss {
		hi := (i + 1) * 8
		if hi > hlen {
			hi = hlen
		}
		ss[i] = h[i*8 : hi]
	}
	return strings.TrimSpace(strings.Join(ss, " "))
}

func (self *Report) TestHex(t testing.TB, expect string) {
	if _, err := hex.DecodeString(expect); err != nil {
		t.Fatalf("invalid expect=%s err=%s", expect, err)
	}
	actual := hex.EncodeToString(self.Bytes())
	if actual != expect {
		t.Fatalf("Report=%s expected=%s", actual, expect)
	}
}
