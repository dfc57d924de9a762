// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command bridged runs the radio bridge on a board with an 802.15.4
// transceiver and a serial link to the host.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/bridge"
	"github.com/ZaparooProject/go-radiobridge/mac"
	"github.com/ZaparooProject/go-radiobridge/radio"
	"github.com/ZaparooProject/go-radiobridge/radio/mrf24j40"
	"github.com/ZaparooProject/go-radiobridge/radio/sim"
	"github.com/ZaparooProject/go-radiobridge/security"
	"github.com/ZaparooProject/go-radiobridge/transport/uart"
)

var log = logrus.New()

type config struct {
	radio          string
	hostPort       string
	spiPort        string
	irqPin         string
	resetPin       string
	address        string
	key            string
	logDir         string
	baud           int
	channel        int
	level          int
	minLevel       int
	pan            uint
	short          uint
	statsInterval  time.Duration
	allowUnsecured bool
	debug          bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*config, error) {
	cfg := &config{}
	fs.StringVar(&cfg.radio, "radio", "mrf24j40", "Radio driver: mrf24j40 or sim")
	fs.StringVar(&cfg.hostPort, "host", "/dev/ttyS0", "Serial port connected to the host")
	fs.IntVar(&cfg.baud, "baud", radiobridge.DefaultBaudRate, "Host link baud rate")
	fs.StringVar(&cfg.spiPort, "spi", "", "SPI port for the transceiver (first port if empty)")
	fs.StringVar(&cfg.irqPin, "irq", "GPIO25", "GPIO connected to the transceiver interrupt")
	fs.StringVar(&cfg.resetPin, "reset", "", "GPIO connected to the transceiver reset")
	fs.IntVar(&cfg.channel, "channel", mrf24j40.MinChannel, "802.15.4 channel (11-26)")
	fs.UintVar(&cfg.pan, "pan", 0xFFFF, "PAN identifier")
	fs.UintVar(&cfg.short, "short", 0xFFFE, "Short address")
	fs.StringVar(&cfg.address, "addr", "", "Extended address as 00:11:..:77 (derived from the machine ID if empty)")
	fs.StringVar(&cfg.key, "key", "", "Network key, 32 hex digits (default $RADIOBRIDGE_KEY)")
	fs.IntVar(&cfg.level, "level", int(security.LevelENCMIC32), "Security level for outgoing frames (0-7)")
	fs.IntVar(&cfg.minLevel, "min-level", int(security.LevelENCMIC32), "Lowest security level accepted from the air")
	fs.BoolVar(&cfg.allowUnsecured, "allow-unsecured", false, "Forward frames that carry no security")
	fs.DurationVar(&cfg.statsInterval, "stats", time.Minute, "Interval between stats log lines (0 disables)")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")
	fs.StringVar(&cfg.logDir, "log-dir", "", "Directory for a debug session log")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.key == "" {
		cfg.key = os.Getenv("RADIOBRIDGE_KEY")
	}
	if cfg.pan > 0xFFFF || cfg.short > 0xFFFF {
		return nil, fmt.Errorf("%w: PAN and short address are 16-bit", radiobridge.ErrInvalidParameter)
	}
	return cfg, nil
}

func parseKey(s string) (security.Key, error) {
	var key security.Key
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != security.KeySize {
		return key, fmt.Errorf("%w: key must be %d hex digits", radiobridge.ErrInvalidParameter, 2*security.KeySize)
	}
	copy(key[:], raw)
	return key, nil
}

func securityConfig(cfg *config) (*security.Config, error) {
	sc := security.DefaultConfig()
	sc.Level = security.Level(cfg.level)
	sc.MinLevel = security.Level(cfg.minLevel)
	if !sc.Level.Valid() || !sc.MinLevel.Valid() {
		return nil, fmt.Errorf("%w: security level must be 0-7", radiobridge.ErrInvalidParameter)
	}
	if sc.Level != security.LevelNone || !cfg.allowUnsecured {
		key, err := parseKey(cfg.key)
		if err != nil {
			return nil, err
		}
		sc.Key = key
	}

	if cfg.address != "" {
		addr, err := mac.ParseExtendedAddress(cfg.address)
		if err != nil {
			return nil, err
		}
		sc.Address = addr
	} else {
		addr, err := bridge.DefaultExtendedAddress()
		if err != nil {
			return nil, err
		}
		sc.Address = addr
	}
	return sc, nil
}

func openRadio(cfg *config, addr mac.ExtendedAddress) (radio.Driver, error) {
	switch cfg.radio {
	case "sim":
		return sim.New(sim.Options{AutoComplete: true, AirTime: 4 * time.Millisecond}), nil
	case "mrf24j40":
		d, err := mrf24j40.Open(mrf24j40.Config{
			SPIPort:     cfg.spiPort,
			IRQPin:      cfg.irqPin,
			ResetPin:    cfg.resetPin,
			Channel:     cfg.channel,
			PAN:         uint16(cfg.pan),
			Short:       uint16(cfg.short),
			Extended:    addr,
			Promiscuous: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open MRF24J40: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: unknown radio %q", radiobridge.ErrInvalidParameter, cfg.radio)
	}
}

func logStats(ctx context.Context, b *bridge.Bridge, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := b.Stats()
			log.WithFields(logrus.Fields{
				"rx":            s.RxFrames,
				"rx_dropped":    s.RxDropped,
				"auth_failures": s.AuthFailures,
				"tx":            s.TxFrames,
				"tx_refused":    s.TxRefused,
				"radio_errors":  s.RadioErrors(),
				"counter":       s.FrameCounter,
			}).Info("bridge stats")
		}
	}
}

func run(ctx context.Context, cfg *config) error {
	sc, err := securityConfig(cfg)
	if err != nil {
		return err
	}
	driver, err := openRadio(cfg, sc.Address)
	if err != nil {
		return err
	}
	host, err := uart.New(cfg.hostPort, uart.WithBaudRate(cfg.baud))
	if err != nil {
		_ = driver.Close()
		return err
	}
	return serve(ctx, cfg, sc, driver, host)
}

func serve(ctx context.Context, cfg *config, sc *security.Config, driver radio.Driver, host io.ReadWriteCloser) error {
	defer func() { _ = host.Close() }()
	bcfg := bridge.DefaultConfig()
	bcfg.Security = sc
	bcfg.AllowUnsecured = cfg.allowUnsecured
	b, err := bridge.New(driver, host, bcfg)
	if err != nil {
		_ = driver.Close()
		return err
	}
	defer func() { _ = b.Close() }()

	log.WithFields(logrus.Fields{
		"radio":   cfg.radio,
		"host":    cfg.hostPort,
		"address": sc.Address,
		"level":   sc.Level,
	}).Info("bridge running")

	statsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go logStats(statsCtx, b, cfg.statsInterval)

	err = b.Run(ctx)
	s := b.Stats()
	log.WithField("stats", s.String()).Info("bridge stopped")
	if radiobridge.IsFatal(err) {
		return fmt.Errorf("bridge stopped: %w", err)
	}
	return err
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	log.Formatter = new(logrus.TextFormatter)
	log.Level = logrus.InfoLevel

	cfg, err := parseFlags(flag.NewFlagSet("bridged", flag.ContinueOnError), args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if cfg.debug {
		radiobridge.SetDebugEnabled(true)
		log.Level = logrus.DebugLevel
	}
	if cfg.logDir != "" {
		if path, err := radiobridge.InitSessionLog(cfg.logDir); err != nil {
			log.WithError(err).Warn("session log disabled")
		} else {
			defer func() { _ = radiobridge.CloseSessionLog() }()
			log.WithField("path", path).Info("session log")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).WithField("code", exitCode(err)).Error("bridge failed")
		return exitCode(err)
	}
	return 0
}

// exitCode maps key exhaustion to its own status so a supervisor can tell
// it apart from a lost host link.
func exitCode(err error) int {
	if errors.Is(err, radiobridge.ErrNonceExhausted) {
		return 3
	}
	return 1
}
