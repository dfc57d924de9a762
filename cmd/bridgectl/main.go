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

// Command bridgectl talks to a radio bridge from the host: it finds
// attached bridges, monitors received frames, sends frames and reads
// counters.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/client"
	"github.com/ZaparooProject/go-radiobridge/detection"
	_ "github.com/ZaparooProject/go-radiobridge/detection/uart"
	"github.com/ZaparooProject/go-radiobridge/mac"
	"github.com/ZaparooProject/go-radiobridge/transport/uart"
)

var log = logrus.New()

const usage = `usage: bridgectl [flags] <command> [args]

commands:
  detect             list attached bridges
  monitor            log received frames (and publish them with -mqtt)
  send <hex frame>   send an unsecured MAC frame, without FCS
  stats              print bridge counters
`

type config struct {
	command       string
	devicePath    string
	mqttURL       string
	args          []string
	baud          int
	statsInterval time.Duration
	jsonOut       bool
	debug         bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*config, error) {
	cfg := &config{}
	fs.StringVar(&cfg.devicePath, "device", "", "Serial port of the bridge (auto-detect if empty)")
	fs.IntVar(&cfg.baud, "baud", radiobridge.DefaultBaudRate, "Baud rate")
	fs.StringVar(&cfg.mqttURL, "mqtt", "", "MQTT broker URL for monitor (default $RADIOBRIDGE_MQTT_URL)")
	fs.DurationVar(&cfg.statsInterval, "stats", 30*time.Second, "Monitor stats interval (0 disables)")
	fs.BoolVar(&cfg.jsonOut, "json", false, "Print stats as JSON")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")
	fs.Usage = func() {
		_, _ = fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() == 0 {
		return nil, fmt.Errorf("%w: missing command", radiobridge.ErrInvalidParameter)
	}
	cfg.command = fs.Arg(0)
	cfg.args = fs.Args()[1:]
	if cfg.mqttURL == "" {
		cfg.mqttURL = os.Getenv("RADIOBRIDGE_MQTT_URL")
	}
	return cfg, nil
}

func findDevice(ctx context.Context) (detection.DeviceInfo, error) {
	opts := detection.DefaultOptions()
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return detection.DeviceInfo{}, fmt.Errorf("failed to detect a bridge: %w", err)
	}
	return devices[0], nil
}

func openTransport(ctx context.Context, cfg *config) (radiobridge.Transport, error) {
	path := cfg.devicePath
	if path == "" {
		device, err := findDevice(ctx)
		if err != nil {
			return nil, err
		}
		log.WithField("device", device.String()).Debug("auto-detected bridge")
		path = device.Path
	}
	t, err := uart.New(path, uart.WithBaudRate(cfg.baud))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// frameFields describes a received frame for logging and picks the topic it
// is published under.
func frameFields(frame []byte) (logrus.Fields, string) {
	info, err := mac.Parse(frame)
	if err != nil {
		return logrus.Fields{"len": len(frame), "error": err}, "rx/unparsed"
	}
	h := info.Header
	fields := logrus.Fields{
		"type":    h.Type,
		"seq":     h.Seq,
		"len":     len(frame),
		"payload": hex.EncodeToString(info.Payload),
	}
	topic := "rx/" + addressTopic(h.SrcPAN, h.Src)
	if h.Src.Mode != mac.AddrNone {
		fields["src"] = addressTopic(h.SrcPAN, h.Src)
	}
	if h.Dst.Mode != mac.AddrNone {
		fields["dst"] = addressTopic(h.DstPAN, h.Dst)
	}
	return fields, topic
}

func addressTopic(pan uint16, a mac.Address) string {
	switch a.Mode {
	case mac.AddrShort:
		return fmt.Sprintf("%04x.%04x", pan, a.Short)
	case mac.AddrExtended:
		return fmt.Sprintf("%016x", uint64(a.Extended))
	default:
		return "none"
	}
}

type monitor struct {
	pub publisher
}

func (m *monitor) onFrame(frame []byte) {
	fields, topic := frameFields(frame)
	log.WithFields(fields).Info("frame")
	if m.pub != nil {
		if err := m.pub.Publish(topic, frame); err != nil {
			log.WithError(err).Warn("publish failed")
		}
	}
}

func (m *monitor) onStats(s *radiobridge.Stats) error {
	log.WithField("stats", s.String()).Info("stats")
	if m.pub == nil {
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return m.pub.Publish("stats", payload)
}

func runMonitor(ctx context.Context, cfg *config, t radiobridge.Transport) error {
	m := &monitor{}
	if cfg.mqttURL != "" {
		pub, err := newMQTTPublisher(cfg.mqttURL)
		if err != nil {
			return err
		}
		defer pub.Close()
		m.pub = pub
	}

	c := client.New(t, client.WithFrameHandler(m.onFrame))
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var tick <-chan time.Time
	if cfg.statsInterval > 0 {
		ticker := time.NewTicker(cfg.statsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case err := <-done:
			return err
		case <-tick:
			s, err := c.Stats(ctx)
			if err != nil {
				log.WithError(err).Warn("stats request failed")
				continue
			}
			if err := m.onStats(&s); err != nil {
				log.WithError(err).Warn("stats publish failed")
			}
		}
	}
}

func runSend(ctx context.Context, cfg *config, t radiobridge.Transport) error {
	if len(cfg.args) != 1 {
		return fmt.Errorf("%w: send takes one hex frame", radiobridge.ErrInvalidParameter)
	}
	frame, err := hex.DecodeString(strings.ReplaceAll(cfg.args[0], ":", ""))
	if err != nil {
		return fmt.Errorf("%w: frame: %w", radiobridge.ErrInvalidParameter, err)
	}
	if _, err := mac.Parse(frame); err != nil {
		return err
	}

	c := client.New(t)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = c.Run(runCtx) }()

	if err := c.Send(ctx, frame); err != nil {
		if te := radiobridge.GetTrace(err); te != nil {
			log.Debug(te.FormatTrace())
		}
		return err
	}
	log.WithField("len", len(frame)).Info("frame accepted")
	return nil
}

func runStats(ctx context.Context, cfg *config, t radiobridge.Transport, out io.Writer) error {
	c := client.New(t)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = c.Run(runCtx) }()

	s, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	if cfg.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
		return nil
	}
	_, err = fmt.Fprintln(out, s.String())
	return err
}

func runDetect(ctx context.Context, out io.Writer) error {
	opts := detection.DefaultOptions()
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return err
	}
	for _, d := range devices {
		_, _ = fmt.Fprintf(out, "%s\t%s\n", d.Path, d)
	}
	return nil
}

func run(ctx context.Context, cfg *config) error {
	if cfg.command == "detect" {
		return runDetect(ctx, os.Stdout)
	}

	var handler func(context.Context, *config, radiobridge.Transport) error
	switch cfg.command {
	case "monitor":
		handler = runMonitor
	case "send":
		handler = runSend
	case "stats":
		handler = func(ctx context.Context, cfg *config, t radiobridge.Transport) error {
			return runStats(ctx, cfg, t, os.Stdout)
		}
	default:
		return fmt.Errorf("%w: unknown command %q", radiobridge.ErrInvalidParameter, cfg.command)
	}

	t, err := openTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()
	return handler(ctx, cfg, t)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	log.Formatter = new(logrus.TextFormatter)
	log.Level = logrus.InfoLevel

	fs := flag.NewFlagSet("bridgectl", flag.ContinueOnError)
	cfg, err := parseFlags(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return 2
	}
	if cfg.debug {
		radiobridge.SetDebugEnabled(true)
		log.Level = logrus.DebugLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error(cfg.command + " failed")
		return 1
	}
	return 0
}
