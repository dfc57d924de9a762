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

// Package mrf24j40 drives a Microchip MRF24J40 802.15.4 transceiver over
// SPI with a GPIO interrupt line, using periph.
package mrf24j40

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	radiobridge "github.com/ZaparooProject/go-radiobridge"
	"github.com/ZaparooProject/go-radiobridge/internal/syncutil"
	"github.com/ZaparooProject/go-radiobridge/mac"
	"github.com/ZaparooProject/go-radiobridge/radio"
)

// Short address registers.
const (
	regRXMCR   = 0x00
	regPANIDL  = 0x01
	regPANIDH  = 0x02
	regSADRL   = 0x03
	regSADRH   = 0x04
	regEADR0   = 0x05
	regRXFLUSH = 0x0D
	regPACON2  = 0x18
	regTXNCON  = 0x1B
	regTXSTAT  = 0x24
	regSOFTRST = 0x2A
	regTXSTBL  = 0x2E
	regINTSTAT = 0x31
	regINTCON  = 0x32
	regRFCTL   = 0x36
	regBBREG1  = 0x39
	regBBREG2  = 0x3A
	regBBREG6  = 0x3E
	regCCAEDTH = 0x3F
)

// Long address registers and FIFOs.
const (
	regRFCON0  = 0x200
	regRFCON1  = 0x201
	regRFCON2  = 0x202
	regRFCON6  = 0x206
	regRFCON7  = 0x207
	regRFCON8  = 0x208
	regSLPCON1 = 0x220

	fifoTX = 0x000
	fifoRX = 0x300
)

const (
	intTXN = 0x01
	intRX  = 0x08

	txnTrig   = 0x01
	txnAckReq = 0x04

	txstatFailed  = 0x01
	txstatCCAFail = 0x20

	rxmcrPromiscuous = 0x01
	bbreg1RXDecInv   = 0x04
	softrstAll       = 0x07
)

const (
	// MinChannel and MaxChannel bound the 2.4 GHz O-QPSK channels.
	MinChannel = 11
	MaxChannel = 26

	spiFrequency    = 5 * physic.MegaHertz
	irqPollInterval = 100 * time.Millisecond
	// txTimeout bounds a transmission including CSMA backoff and three
	// hardware retries. A busy radio past it lost its TXN interrupt.
	txTimeout = 50 * time.Millisecond
)

// Config selects the hardware and the radio's identity.
type Config struct {
	// SPIPort is the periph SPI port name. "" opens the first port.
	SPIPort string
	// IRQPin is the GPIO wired to the INT output. Required by Open.
	IRQPin string
	// ResetPin is the GPIO wired to RESET. Optional.
	ResetPin string
	Extended mac.ExtendedAddress
	Channel  int
	PAN      uint16
	Short    uint16
	// Promiscuous accepts frames for any destination.
	Promiscuous bool
}

// Driver implements radio.Driver for the MRF24J40.
type Driver struct {
	conn      conn.Conn
	port      spi.PortCloser
	irq       gpio.PinIn
	handler   radio.Handler
	done      chan struct{}
	rxbuf     [mac.MaxPSDU]byte
	mu        syncutil.Mutex
	serviceMu syncutil.Mutex
	txStarted time.Time
	txTimeout time.Duration
	closed    atomic.Bool
	busy      bool
	lqi       uint8
	rssi      uint8
}

// Open brings up the periph host, opens the SPI port and interrupt pin,
// and initializes the transceiver.
func Open(cfg Config) (*Driver, error) {
	if cfg.IRQPin == "" {
		return nil, fmt.Errorf("%w: IRQ pin is required", radiobridge.ErrInvalidParameter)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	irq := gpioreg.ByName(cfg.IRQPin)
	if irq == nil {
		return nil, fmt.Errorf("%w: no GPIO named %q", radiobridge.ErrInvalidParameter, cfg.IRQPin)
	}
	if err := irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("failed to configure IRQ pin: %w", err)
	}
	if cfg.ResetPin != "" {
		if err := hardReset(cfg.ResetPin); err != nil {
			return nil, err
		}
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", cfg.SPIPort, err)
	}
	c, err := port.Connect(spiFrequency, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	d, err := newDriver(c, cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	d.port = port
	d.irq = irq
	d.done = make(chan struct{})
	go d.irqLoop()
	return d, nil
}

func hardReset(name string) error {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return fmt.Errorf("%w: no GPIO named %q", radiobridge.ErrInvalidParameter, name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to assert reset: %w", err)
	}
	time.Sleep(time.Millisecond)
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to release reset: %w", err)
	}
	time.Sleep(2 * time.Millisecond)
	return nil
}

// newDriver initializes the chip on c. The caller drives interrupts.
func newDriver(c conn.Conn, cfg Config) (*Driver, error) {
	if cfg.Channel == 0 {
		cfg.Channel = MinChannel
	}
	if cfg.Channel < MinChannel || cfg.Channel > MaxChannel {
		return nil, fmt.Errorf("%w: channel %d", radiobridge.ErrInvalidParameter, cfg.Channel)
	}
	d := &Driver{conn: c, txTimeout: txTimeout}
	if err := d.init(cfg); err != nil {
		return nil, fmt.Errorf("%w: init: %w", radiobridge.ErrRadioFault, err)
	}
	return d, nil
}

func (d *Driver) init(cfg Config) error {
	if err := d.writeShort(regSOFTRST, softrstAll); err != nil {
		return err
	}
	for range 100 {
		v, err := d.readShort(regSOFTRST)
		if err != nil {
			return err
		}
		if v&softrstAll == 0 {
			break
		}
	}

	shortWrites := []struct{ reg, val byte }{
		{regPACON2, 0x98},
		{regTXSTBL, 0x95},
		{regBBREG2, 0x80},
		{regCCAEDTH, 0x60},
		{regBBREG6, 0x40},
		{regPANIDL, byte(cfg.PAN)},
		{regPANIDH, byte(cfg.PAN >> 8)},
		{regSADRL, byte(cfg.Short)},
		{regSADRH, byte(cfg.Short >> 8)},
	}
	for _, w := range shortWrites {
		if err := d.writeShort(w.reg, w.val); err != nil {
			return err
		}
	}

	var eadr [8]byte
	binary.LittleEndian.PutUint64(eadr[:], uint64(cfg.Extended))
	for i, b := range eadr {
		if err := d.writeShort(regEADR0+byte(i), b); err != nil {
			return err
		}
	}

	longWrites := []struct {
		reg uint16
		val byte
	}{
		{regRFCON1, 0x01},
		{regRFCON2, 0x80},
		{regRFCON6, 0x90},
		{regRFCON7, 0x80},
		{regRFCON8, 0x10},
		{regSLPCON1, 0x21},
	}
	for _, w := range longWrites {
		if err := d.writeLong(w.reg, w.val); err != nil {
			return err
		}
	}

	var rxmcr byte
	if cfg.Promiscuous {
		rxmcr = rxmcrPromiscuous
	}
	if err := d.writeShort(regRXMCR, rxmcr); err != nil {
		return err
	}
	// Unmask TX-normal and RX interrupts.
	if err := d.writeShort(regINTCON, ^byte(intTXN|intRX)); err != nil {
		return err
	}
	return d.setChannel(cfg.Channel)
}

func (d *Driver) setChannel(ch int) error {
	if err := d.writeLong(regRFCON0, byte(ch-MinChannel)<<4|0x03); err != nil {
		return err
	}
	if err := d.writeShort(regRFCTL, 0x04); err != nil {
		return err
	}
	if err := d.writeShort(regRFCTL, 0x00); err != nil {
		return err
	}
	time.Sleep(200 * time.Microsecond)
	return nil
}

// SetHandler implements radio.Driver.
func (d *Driver) SetHandler(h radio.Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Transmit implements radio.Driver. The frame is written to the normal TX
// FIFO and sent with CSMA-CA; the acknowledgment request bit of the frame
// control field selects hardware retransmission.
func (d *Driver) Transmit(frame []byte) error {
	if len(frame) > mac.MaxFrameSize {
		return mac.ErrTooLarge
	}
	if d.closed.Load() {
		return radio.ErrClosed
	}

	var hdrLen int
	trig := byte(txnTrig)
	if h, n, err := mac.ParseHeader(frame); err == nil {
		hdrLen = n
		if h.AckRequest {
			trig |= txnAckReq
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		if time.Since(d.txStarted) < d.txTimeout {
			return radio.ErrBusy
		}
		radiobridge.Debugf("mrf24j40: no transmit-complete after %v, clearing busy", d.txTimeout)
		d.busy = false
	}
	if err := d.writeLong(fifoTX, byte(hdrLen)); err != nil {
		return d.fault("transmit", err)
	}
	if err := d.writeLong(fifoTX+1, byte(len(frame))); err != nil {
		return d.fault("transmit", err)
	}
	for i, b := range frame {
		if err := d.writeLong(fifoTX+2+uint16(i), b); err != nil {
			return d.fault("transmit", err)
		}
	}
	if err := d.writeShort(regTXNCON, trig); err != nil {
		return d.fault("transmit", err)
	}
	d.busy = true
	d.txStarted = time.Now()
	return nil
}

func (*Driver) fault(op string, err error) error {
	return radiobridge.NewBridgeError(op, "mrf24j40", fmt.Errorf("%w: %w", radiobridge.ErrRadioFault, err),
		radiobridge.ErrorTypePermanent)
}

// LinkQuality returns the LQI and RSSI bytes of the last received frame.
func (d *Driver) LinkQuality() (lqi, rssi uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lqi, d.rssi
}

// Service reads the interrupt status and raises the matching handler
// callbacks. Open runs it from the interrupt goroutine.
func (d *Driver) Service() error {
	d.serviceMu.Lock()
	defer d.serviceMu.Unlock()

	d.mu.Lock()
	h := d.handler
	stat, err := d.readShort(regINTSTAT)
	if err != nil {
		d.mu.Unlock()
		if h != nil {
			h.OnError(radio.ErrorFault)
		}
		return d.fault("service", err)
	}

	var (
		frame  []byte
		rxCode radio.ErrorCode
		rxErr  error
		txDone bool
		txstat byte
		txErr  error
	)
	if stat&intRX != 0 {
		frame, rxCode, rxErr = d.readFrame()
	}
	// INTSTAT clears on read, so TXN is handled even when the RX read failed.
	if stat&intTXN != 0 {
		txstat, txErr = d.readShort(regTXSTAT)
		txDone = true
		d.busy = false
	}
	d.mu.Unlock()

	if h == nil {
		return nil
	}
	switch {
	case rxErr != nil:
		h.OnError(radio.ErrorFault)
	case rxCode != 0:
		h.OnError(rxCode)
	case frame != nil:
		h.OnReceive(frame)
	}
	if txDone {
		ok := txErr == nil && txstat&txstatFailed == 0
		switch {
		case txErr != nil:
			h.OnError(radio.ErrorFault)
		case !ok && txstat&txstatCCAFail != 0:
			h.OnError(radio.ErrorChannelBusy)
		}
		h.OnTransmitComplete(ok)
	}
	if err := errors.Join(rxErr, txErr); err != nil {
		return d.fault("service", err)
	}
	return nil
}

// readFrame copies the RX FIFO into rxbuf with reception paused. Caller
// holds mu.
func (d *Driver) readFrame() ([]byte, radio.ErrorCode, error) {
	if err := d.writeShort(regBBREG1, bbreg1RXDecInv); err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = d.writeShort(regRXFLUSH, 0x01)
		_ = d.writeShort(regBBREG1, 0x00)
	}()

	n, err := d.readLong(fifoRX)
	if err != nil {
		return nil, 0, err
	}
	if int(n) < mac.FCSSize+3 || int(n) > mac.MaxPSDU {
		return nil, radio.ErrorFault, nil
	}
	frameLen := int(n) - mac.FCSSize
	for i := range frameLen {
		if d.rxbuf[i], err = d.readLong(fifoRX + 1 + uint16(i)); err != nil {
			return nil, 0, err
		}
	}
	if d.lqi, err = d.readLong(fifoRX + 1 + uint16(n)); err != nil {
		return nil, 0, err
	}
	if d.rssi, err = d.readLong(fifoRX + 2 + uint16(n)); err != nil {
		return nil, 0, err
	}
	return d.rxbuf[:frameLen], 0, nil
}

func (d *Driver) irqLoop() {
	defer close(d.done)
	for !d.closed.Load() {
		if d.irq.WaitForEdge(irqPollInterval) || d.irq.Read() == gpio.Low {
			if d.closed.Load() {
				return
			}
			if err := d.Service(); err != nil {
				radiobridge.Debugf("mrf24j40: %v", err)
			}
		}
	}
}

// Close implements radio.Driver.
func (d *Driver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if d.irq != nil {
		_ = d.irq.Halt()
		<-d.done
	}
	if d.port != nil {
		if err := d.port.Close(); err != nil {
			return fmt.Errorf("SPI close failed: %w", err)
		}
	}
	return nil
}

func (d *Driver) readShort(reg byte) (byte, error) {
	w := [2]byte{reg << 1 & 0x7E}
	var r [2]byte
	if err := d.conn.Tx(w[:], r[:]); err != nil {
		return 0, fmt.Errorf("read short 0x%02X: %w", reg, err)
	}
	return r[1], nil
}

func (d *Driver) writeShort(reg, val byte) error {
	w := [2]byte{reg<<1&0x7E | 0x01, val}
	if err := d.conn.Tx(w[:], nil); err != nil {
		return fmt.Errorf("write short 0x%02X: %w", reg, err)
	}
	return nil
}

func (d *Driver) readLong(reg uint16) (byte, error) {
	w := [3]byte{0x80 | byte(reg>>3), byte(reg<<5) & 0xE0}
	var r [3]byte
	if err := d.conn.Tx(w[:], r[:]); err != nil {
		return 0, fmt.Errorf("read long 0x%03X: %w", reg, err)
	}
	return r[2], nil
}

func (d *Driver) writeLong(reg uint16, val byte) error {
	w := [3]byte{0x80 | byte(reg>>3), byte(reg<<5)&0xE0 | 0x10, val}
	if err := d.conn.Tx(w[:], nil); err != nil {
		return fmt.Errorf("write long 0x%03X: %w", reg, err)
	}
	return nil
}

var _ radio.Driver = (*Driver)(nil)
