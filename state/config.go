package state

import (
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/keywire/keywire/client"
	"github.com/keywire/keywire/hardware/hid"
	"github.com/keywire/keywire/helpers"
	"github.com/keywire/keywire/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Client struct {
		TimeoutMs          int  `hcl:"timeout_ms"`
		BootstrapAttempts  int  `hcl:"bootstrap_attempts"`
		BootstrapReads     int  `hcl:"bootstrap_reads"`
		BootstrapTimeoutMs int  `hcl:"bootstrap_timeout_ms"`
		LogDebug           bool `hcl:"log_debug"`
	} `hcl:"client"`

	Devices []DeviceConfig `hcl:"device"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// DeviceConfig is one catalog entry. Numeric ids are hex strings
// ("0x05ac") because HCL integers are decimal and usb ids are never
// written that way.
type DeviceConfig struct {
	Name      string `hcl:"name,key"`
	VendorID  string `hcl:"vendor_id"`
	ProductID string `hcl:"product_id"`
	UsagePage string `hcl:"usage_page"`
	Usage     string `hcl:"usage"`
	Serial    string `hcl:"serial"`
}

// Device finds a catalog entry by name.
func (c *Config) Device(name string) (DeviceConfig, error) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, nil
		}
	}
	return DeviceConfig{}, errors.NotFoundf("config device=%s", name)
}

// HID converts catalog hex strings into an open filter.
func (d *DeviceConfig) HID() (hid.Config, error) {
	out := hid.Config{Serial: d.Serial}
	errs := make([]error, 0, 4)
	for _, x := range []struct {
		name  string
		value string
		dst   *uint16
	}{
		{"vendor_id", d.VendorID, &out.VendorID},
		{"product_id", d.ProductID, &out.ProductID},
		{"usage_page", d.UsagePage, &out.UsagePage},
		{"usage", d.Usage, &out.Usage},
	} {
		if x.value == "" {
			continue
		}
		u, err := strconv.ParseUint(x.value, 0, 16)
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "config device=%s %s=%s", d.Name, x.name, x.value))
			continue
		}
		*x.dst = uint16(u)
	}
	return out, helpers.FoldErrors(errs)
}

func (c *Config) ClientConfig() client.Config {
	return client.Config{
		Timeout:           time.Duration(c.Client.TimeoutMs) * time.Millisecond,
		BootstrapAttempts: c.Client.BootstrapAttempts,
		BootstrapReads:    c.Client.BootstrapReads,
		BootstrapTimeout:  time.Duration(c.Client.BootstrapTimeoutMs) * time.Millisecond,
	}
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
