// Interactive console for poking a keyboard over the vendor HID channel.
// Scriptable: pipe commands on stdin, one line = one sequence.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"

	"github.com/keywire/keywire/client"
	"github.com/keywire/keywire/decode"
	"github.com/keywire/keywire/hardware/hid"
	"github.com/keywire/keywire/helpers/cli"
	"github.com/keywire/keywire/log2"
	"github.com/keywire/keywire/state"
)

const usage = `syntax: commands separated by whitespace
- @XX...        extension command from hex: command byte then args
- xXX...        legacy command from hex: command byte then args
- pull=SS,CC    chunked fetch: size command SS, chunk command CC (hex),
                append >path to write a file instead of hex dump
- push=CC:XX... chunked upload of hex data with set command CC
- lease         print current lease and counters
- log=yes|no    toggle debug logging
- sN            pause N milliseconds
- loop=N        repeat N times all commands on this line
`

var log = log2.NewStderr(log2.LDebug)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "keywire.hcl", "config file path")
	flagDevice := cmdline.String("device", "", "device name from config catalog")
	flagVid := cmdline.String("vid", "", "vendor id filter, hex, overrides catalog")
	flagPid := cmdline.String("pid", "", "product id filter, hex")
	flagUsagePage := cmdline.String("usage-page", "0xff60", "usage page filter, hex")
	flagSerial := cmdline.String("serial", "", "serial number filter")
	cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	var filter hid.Config
	ccfg := &client.Config{}
	if *flagDevice != "" {
		config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
		d, err := config.Device(*flagDevice)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		if filter, err = d.HID(); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		cc := config.ClientConfig()
		ccfg = &cc
		if !config.Client.LogDebug {
			log.SetLevel(log2.LInfo)
		}
	} else {
		filter.VendorID = mustID(*flagVid, "vid")
		filter.ProductID = mustID(*flagPid, "pid")
		filter.UsagePage = mustID(*flagUsagePage, "usage-page")
		filter.Serial = *flagSerial
	}

	c, err := client.Open(&filter, ccfg, log)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	defer c.Close()
	c.OnDisconnect(func() {
		log.Errorf("device disconnected")
		os.Exit(1)
	})

	cli.MainLoop("keywire-cli", newExecutor(c), newCompleter())
}

func mustID(s, name string) uint16 {
	if s == "" {
		return 0
	}
	u, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		log.Fatalf("flag %s=%s err=%v", name, s, err)
	}
	return uint16(u)
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "@", Description: "extension command hex"},
		{Text: "x", Description: "legacy command hex"},
		{Text: "pull=", Description: "chunked fetch sizeCmd,chunkCmd"},
		{Text: "push=", Description: "chunked upload cmd:hexdata"},
		{Text: "lease", Description: "lease id and counters"},
		{Text: "log=yes", Description: "debug logging on"},
		{Text: "log=no", Description: "debug logging off"},
		{Text: "help", Description: "command syntax"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(c *client.Client) func(line string) {
	return func(line string) {
		if strings.TrimSpace(line) == "" {
			return
		}
		words := strings.Split(line, " ")
		iteration := uint64(1)
	wordLoop:
		for _, word := range words {
			word = strings.TrimSpace(word)
			if word == "" {
				continue
			}
			if err := execWord(c, word, &iteration); err != nil {
				if err == errLoop {
					goto wordLoop
				}
				log.Errorf("word=%s err=%v", word, err)
				return
			}
		}
	}
}

// errLoop is the loop=N backjump signal, not a failure.
var errLoop = errors.New("loop")

func execWord(c *client.Client, word string, iteration *uint64) error {
	ctx := context.Background()
	switch {
	case word == "help":
		log.Infof(usage)

	case word == "lease":
		log.Infof("lease=%d stat=%+v", c.LeaseID(), c.Stat())

	case word == "log=yes":
		log.SetLevel(log2.LDebug)
	case word == "log=no":
		log.SetLevel(log2.LInfo)

	case strings.HasPrefix(word, "loop="):
		i, err := strconv.ParseUint(word[5:], 10, 32)
		if err != nil {
			return err
		}
		*iteration++
		if *iteration <= i {
			return errLoop
		}

	case strings.HasPrefix(word, "pull="):
		arg, file, _ := strings.Cut(word[5:], ">")
		parts := strings.SplitN(arg, ",", 2)
		if len(parts) != 2 {
			return errors.NotValidf("pull=SS,CC[>file]")
		}
		sizeCmd, err := parseCmd(parts[0])
		if err != nil {
			return err
		}
		chunkCmd, err := parseCmd(parts[1])
		if err != nil {
			return err
		}
		b, err := c.FetchChunked(ctx, sizeCmd, chunkCmd, nil)
		if err != nil {
			return err
		}
		if file != "" {
			if err = os.WriteFile(file, b, 0644); err != nil {
				return err
			}
			log.Infof("pull ok len=%d file=%s", len(b), file)
		} else {
			log.Infof("pull ok len=%d data=%x", len(b), b)
		}

	case strings.HasPrefix(word, "push="):
		parts := strings.SplitN(word[5:], ":", 2)
		if len(parts) != 2 {
			return errors.NotValidf("push=CC:XX...")
		}
		cmd, err := parseCmd(parts[0])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(parts[1])
		if err != nil {
			return err
		}
		if err = c.PushChunked(ctx, cmd, data); err != nil {
			return err
		}
		log.Infof("push ok len=%d", len(data))

	case word[0] == '@':
		return exchange(ctx, c.Extension, word[1:])
	case word[0] == 'x':
		return exchange(ctx, c.Legacy, word[1:])

	case word[0] == 's':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return err
		}
		time.Sleep(time.Duration(i) * time.Millisecond)

	default:
		return errors.NotValidf("token=%s, try help", word)
	}
	return nil
}

type sendFunc func(ctx context.Context, cmd byte, args []byte, shape decode.Shape) (interface{}, error)

func exchange(ctx context.Context, send sendFunc, hexArg string) error {
	bs, err := hex.DecodeString(hexArg)
	if err != nil {
		return err
	}
	if len(bs) < 1 {
		return errors.NotValidf("requires at least 1 byte for command")
	}
	v, err := send(ctx, bs[0], bs[1:], nil)
	if err != nil {
		return err
	}
	log.Infof("response=%x", v.([]byte))
	return nil
}

func parseCmd(s string) (byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 1 {
		return 0, errors.NotValidf("command must be 1 hex byte: %s", s)
	}
	return b[0], nil
}
