// go-nfc
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-nfc.
//
// go-nfc is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-nfc is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-nfc; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Command reader polls a contactless front-end and prints, serves or
// writes the cards it finds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"periph.io/x/conn/v3/physic"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/detection"
	_ "github.com/ZaparooProject/go-nfc/detection/i2c"
	_ "github.com/ZaparooProject/go-nfc/detection/spi"
	_ "github.com/ZaparooProject/go-nfc/detection/uart"
	"github.com/ZaparooProject/go-nfc/polling"
	"github.com/ZaparooProject/go-nfc/transport/i2c"
	"github.com/ZaparooProject/go-nfc/transport/spi"
	"github.com/ZaparooProject/go-nfc/transport/uart"
)

// autoDevice asks for detection instead of a fixed path.
const autoDevice = "auto"

const (
	writeTimeout       = 30 * time.Second
	recoveryBackoff    = time.Second
	recoveryAttempts   = 3
	feedShutdownPeriod = 2 * time.Second
)

var errNoDevice = errors.New("no device given, use -device or the config file")

type config struct {
	reader     *ReaderConfig
	writeText  string
	saveConfig string
	stressDir  string
	debug      bool
	stress     bool
}

// Package-level flag variables
var (
	flagConfigPath string
	flagDevicePath string
	flagFrontend   string
	flagPSAM       string
	flagWriteText  string
	flagNFCConfig  string
	flagSaveConfig string
	flagServe      string
	flagLogFormat  string
	flagLogDir     string
	flagDebug      bool
	flagStress     bool
)

func init() {
	flag.StringVar(&flagConfigPath, "config", "", "YAML reader config file")
	flag.StringVar(&flagDevicePath, "device", "", "Front-end device, e.g. /dev/ttyUSB0, /dev/spidev0.0 or auto")
	flag.StringVar(&flagFrontend, "frontend", "", "Front-end type: mcu or chip")
	flag.StringVar(&flagPSAM, "psam", "", "Secure element link: serial port, /dev/i2c-N[:0xNN] or auto")
	flag.StringVar(&flagWriteText, "write", "", "Text to write to the next NTAG (exits after write)")
	flag.StringVar(&flagNFCConfig, "nfc-config", "", "CBOR module config file")
	flag.StringVar(&flagSaveConfig, "save-config", "", "Write the effective CBOR module config here and exit")
	flag.StringVar(&flagServe, "serve", "", "Serve card events over websocket on this address, e.g. :8080")
	flag.StringVar(&flagLogFormat, "log-format", "", "Log format: auto, text or json")
	flag.StringVar(&flagLogDir, "log-dir", "", "Directory for the frame level session log")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagStress, "stress", false, "Run the NTAG write/read stress test")
}

// parseConfig loads the config file and applies the flags over it.
func parseConfig() (*config, error) {
	rc, err := loadReaderConfig(flagConfigPath)
	if err != nil {
		return nil, err
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&rc.Device, flagDevicePath)
	override(&rc.Frontend, flagFrontend)
	override(&rc.PSAM.Device, flagPSAM)
	override(&rc.NFCConfig, flagNFCConfig)
	override(&rc.Listen, flagServe)
	override(&rc.Log.Format, flagLogFormat)
	override(&rc.Log.Dir, flagLogDir)
	if err := rc.validate(); err != nil {
		return nil, err
	}
	return &config{
		reader:     rc,
		writeText:  flagWriteText,
		saveConfig: flagSaveConfig,
		stressDir:  rc.Log.Dir,
		debug:      flagDebug,
		stress:     flagStress,
	}, nil
}

// connector finds and opens the transports. Tests swap in simulators.
type connector struct {
	detect func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error)
	host   func(rc *ReaderConfig) (nfc.HostTransport, error)
	psam   func(rc *ReaderConfig) (nfc.PSAMTransport, error)
}

var hardware = connector{detect: detection.DetectAll, host: openHost, psam: openPSAM}

// resolveAuto replaces "auto" device paths with the best detected device.
func resolveAuto(ctx context.Context, conn connector, rc *ReaderConfig) error {
	if rc.Device == autoDevice {
		ft, err := rc.frontendType()
		if err != nil {
			return err
		}
		transport := "uart"
		if ft == nfc.FrontendChip {
			transport = "spi"
		}
		dev, err := detectOne(ctx, conn, transport, detection.RoleFrontend)
		if err != nil {
			return err
		}
		rc.Device = dev.Path
	}
	if rc.PSAM.Device == autoDevice {
		dev, err := detectOne(ctx, conn, "i2c", detection.RolePSAM)
		if err != nil {
			return err
		}
		rc.PSAM.Device = dev.Path
	}
	return nil
}

func detectOne(ctx context.Context, conn connector, transport string, role detection.Role) (detection.DeviceInfo, error) {
	opts := detection.DefaultOptions()
	opts.Transports = []string{transport}
	devices, err := conn.detect(ctx, &opts)
	if err != nil {
		return detection.DeviceInfo{}, fmt.Errorf("%s detection failed: %w", role, err)
	}
	dev, ok := detection.Best(devices, role)
	if !ok {
		return detection.DeviceInfo{}, fmt.Errorf("%s detection failed: %w", role, detection.ErrNoDevicesFound)
	}
	slog.Info("device detected", "device", dev.String(), "name", dev.Name)
	return dev, nil
}

func openHost(rc *ReaderConfig) (nfc.HostTransport, error) {
	if rc.Device == "" {
		return nil, errNoDevice
	}
	ft, err := rc.frontendType()
	if err != nil {
		return nil, err
	}
	if ft == nfc.FrontendChip {
		var opts []spi.Option
		if rc.SPI.FrequencyHz > 0 {
			opts = append(opts, spi.WithFrequency(physic.Frequency(rc.SPI.FrequencyHz)*physic.Hertz))
		}
		for line, pin := range map[nfc.GPIOLine]string{
			nfc.GPIOReset:   rc.SPI.ResetPin,
			nfc.GPIOMode:    rc.SPI.ModePin,
			nfc.GPIOStandby: rc.SPI.StandbyPin,
		} {
			if pin != "" {
				opts = append(opts, spi.WithPin(line, pin))
			}
		}
		t, err := spi.New(rc.Device, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open SPI front-end %s: %w", rc.Device, err)
		}
		return t, nil
	}

	var opts []uart.Option
	if rc.BaudRate > 0 {
		opts = append(opts, uart.WithBaudRate(rc.BaudRate))
	}
	t, err := uart.New(rc.Device, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open UART front-end %s: %w", rc.Device, err)
	}
	return t, nil
}

// openPSAM returns nil when no secure element is configured.
func openPSAM(rc *ReaderConfig) (nfc.PSAMTransport, error) {
	path := rc.PSAM.Device
	if path == "" {
		return nil, nil //nolint:nilnil // no secure element
	}
	if strings.Contains(strings.ToLower(path), "i2c") {
		t, err := i2c.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open I2C secure element %s: %w", path, err)
		}
		return t, nil
	}
	var opts []uart.Option
	if rc.PSAM.BaudRate > 0 {
		opts = append(opts, uart.WithBaudRate(rc.PSAM.BaudRate))
	}
	t, err := uart.New(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial secure element %s: %w", path, err)
	}
	return t, nil
}

// connect opens the transports and initialises a handle on them.
func connect(conn connector, rc *ReaderConfig) (*nfc.Handle, error) {
	cfg, err := rc.moduleConfig()
	if err != nil {
		return nil, err
	}
	ft, err := rc.frontendType()
	if err != nil {
		return nil, err
	}
	host, err := conn.host(rc)
	if err != nil {
		return nil, err
	}

	var opts []nfc.Option
	sam, err := conn.psam(rc)
	if err != nil {
		_ = host.Close()
		return nil, err
	}
	if sam != nil {
		opts = append(opts, nfc.WithPSAM(sam))
	}

	h, err := nfc.Init(host, cfg, ft, opts...)
	if err != nil {
		_ = host.Close()
		if sam != nil {
			_ = sam.Close()
		}
		return nil, fmt.Errorf("failed to initialise %s front-end: %w", ft, err)
	}
	if err := h.RegisterCallback("reader-log", logDispatch, nfc.CallbackShared, nil); err != nil {
		_ = h.Close()
		return nil, err
	}
	slog.Debug("front-end ready", "frontend", ft, "protocols", cfg.Ops.CardProtocol, "psam", sam != nil)
	return h, nil
}

func logDispatch(_ *nfc.Handle, info *nfc.CardInfo, _ any) error {
	slog.Debug("card dispatched",
		"uid", info.UIDHex(), "type", info.CardType, "detection", info.DetectionID)
	return nil
}

func describeCard(h *nfc.Handle, info *nfc.CardInfo) CardEvent {
	ev := newCardEvent(EventDetected, info)
	if info.CardType != nfc.CardTypeUltralight {
		return ev
	}
	msg, err := h.NTAGReadNDEF(nfc.TaskAuto)
	if err != nil {
		slog.Debug("no NDEF message", "uid", ev.UID, "error", err)
		return ev
	}
	ev.Text, _ = nfc.MessageText(msg)
	return ev
}

func newSession(h *nfc.Handle, conn connector, cfg *config) *polling.Session {
	session := polling.NewSession(h, cfg.reader.pollingConfig())
	reopen := func() (*nfc.Handle, error) { return connect(conn, cfg.reader) }
	session.SetRecoverer(polling.NewDefaultRecoverer(h, reopen, recoveryBackoff, recoveryAttempts))
	return session
}

func runReadMode(ctx context.Context, session *polling.Session, events *feed) error {
	session.SetOnCardDetected(func(info *nfc.CardInfo) error {
		ev := describeCard(session.Handle(), info)
		slog.Info("card detected", "uid", ev.UID, "type", ev.CardType,
			"manufacturer", info.Manufacturer(), "text", ev.Text)
		if events != nil {
			events.Publish(ev)
		}
		return nil
	})
	session.SetOnCardRemoved(func() {
		slog.Info("card removed")
		if events != nil {
			events.Publish(newCardEvent(EventRemoved, nil))
		}
	})

	slog.Info("polling for cards, press Ctrl+C to stop")
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("polling stopped: %w", err)
	}
	return nil
}

func runWriteMode(ctx context.Context, session *polling.Session, text string, events *feed) error {
	if text == "" {
		return errors.New("write text cannot be empty")
	}
	slog.Info("waiting for an NTAG to write", "text", text)

	err := session.WriteToNextCardWithRetry(ctx, ctx, writeTimeout,
		func(_ context.Context, h *nfc.Handle, info *nfc.CardInfo) error {
			if info.CardType != nfc.CardTypeUltralight {
				return fmt.Errorf("%w: cannot write NDEF to %s", nfc.ErrUnsupported, info.CardType)
			}
			if err := h.NTAGWriteNDEF(nfc.TaskAuto, nfc.NewTextMessage(text)); err != nil {
				return fmt.Errorf("failed to write NDEF message: %w", err)
			}
			slog.Info("text written", "uid", info.UIDHex())
			if events != nil {
				ev := newCardEvent(EventWritten, info)
				ev.Text = text
				events.Publish(ev)
			}
			return nil
		})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("write cancelled")
		}
		return fmt.Errorf("write operation failed: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config, conn connector) error {
	if cfg.saveConfig != "" {
		mc, err := cfg.reader.moduleConfig()
		if err != nil {
			return err
		}
		if err := nfc.SaveConfigFile(cfg.saveConfig, mc); err != nil {
			return err
		}
		slog.Info("module config saved", "path", cfg.saveConfig)
		return nil
	}

	if err := resolveAuto(ctx, conn, cfg.reader); err != nil {
		return err
	}
	h, err := connect(conn, cfg.reader)
	if err != nil {
		return err
	}
	if cfg.stress {
		defer closeHandle(h)
		return runStressTestMode(ctx, h, cfg)
	}

	session := newSession(h, conn, cfg)
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("failed to close session", "error", err)
		}
		closeHandle(session.Handle())
	}()

	var events *feed
	if cfg.reader.Listen != "" {
		events = newFeed(slog.Default().With("component", "feed"))
		srv := serveFeed(cfg.reader.Listen, events)
		slog.Info("serving card events", "addr", cfg.reader.Listen, "path", "/cards")
		defer func() {
			events.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), feedShutdownPeriod)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.writeText != "" {
		return runWriteMode(ctx, session, cfg.writeText, events)
	}
	return runReadMode(ctx, session, events)
}

func closeHandle(h *nfc.Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil && !errors.Is(err, nfc.ErrHandleClosed) {
		slog.Warn("failed to close handle", "error", err)
	}
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	closeLog, err := setupLogging(cfg.reader.Log, cfg.debug, os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, hardware); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("shut down")
			return 0
		}
		slog.Error("reader failed", "error", err)
		return 1
	}
	return 0
}
