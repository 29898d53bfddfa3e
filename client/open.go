package client

import (
	"github.com/juju/errors"

	"github.com/keywire/keywire/hardware/hid"
	"github.com/keywire/keywire/log2"
)

// Open claims the single device matching hcfg and starts a client on it.
// Close releases both.
func Open(hcfg *hid.Config, cfg *Config, log *log2.Log) (*Client, error) {
	trans, err := hid.Open(hcfg, log)
	if err != nil {
		return nil, errors.Annotate(err, modName)
	}
	return New(trans, cfg, log), nil
}
