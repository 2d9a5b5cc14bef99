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

package nfc

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/ZaparooProject/go-nfc/internal/frame"
)

// PSAMFirmwareChunk is the firmware block size streamed to the MCU.
const PSAMFirmwareChunk = 256

// mcuSEDriver drives the secure element slot of the front-end MCU over
// its own serial channel with the MCU frame format.
type mcuSEDriver struct {
	tr   PSAMTransport
	link *mcuLink
}

func newMCUSEDriver(tr PSAMTransport) *mcuSEDriver {
	return &mcuSEDriver{tr: tr, link: newMCULink("psam-mcu", psamPipe{tr})}
}

func (*mcuSEDriver) name() string { return "psam-mcu" }

func (d *mcuSEDriver) powerUp(timeout time.Duration) ([]byte, error) {
	resp, err := d.link.call(frame.CmdPSAMReset, nil, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (d *mcuSEDriver) powerDown() error {
	_, err := d.link.call(frame.CmdPSAMPowerDown, nil, PSAMAPDUTimeout)
	return err
}

func (d *mcuSEDriver) command(apdu []byte, timeout time.Duration) ([]byte, error) {
	resp, err := d.link.call(frame.CmdPSAMAPDU, apdu, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (d *mcuSEDriver) setBaud(ta1 byte) error {
	_, err := d.link.call(frame.CmdPSAMBaud, []byte{ta1}, PSAMAPDUTimeout)
	return err
}

// updateFirmware announces the image size, streams it in chunks carrying
// their offset and finishes with the image CRC32.
func (d *mcuSEDriver) updateFirmware(image []byte, reboot bool) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(image)))
	if _, err := d.link.call(frame.CmdPSAMFwBegin, hdr[:], PSAMResetTimeout); err != nil {
		return err
	}

	chunk := make([]byte, 4+PSAMFirmwareChunk)
	for off := 0; off < len(image); off += PSAMFirmwareChunk {
		n := copy(chunk[4:], image[off:])
		binary.BigEndian.PutUint32(chunk, uint32(off))
		if _, err := d.link.call(frame.CmdPSAMFwChunk, chunk[:4+n], PSAMAPDUTimeout); err != nil {
			return fmt.Errorf("chunk at %d: %w", off, err)
		}
	}
	Debugf("psam-mcu: sent %d firmware bytes", len(image))

	end := make([]byte, 5)
	binary.BigEndian.PutUint32(end, crc32.ChecksumIEEE(image))
	if reboot {
		end[4] = 1
	}
	_, err := d.link.call(frame.CmdPSAMFwEnd, end, PSAMResetTimeout)
	return err
}

func (d *mcuSEDriver) passthrough(data []byte, timeout time.Duration) ([]byte, error) {
	resp, err := d.link.call(frame.CmdPSAMPassthru, data, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (d *mcuSEDriver) close() error {
	if err := d.tr.Close(); err != nil {
		return fmt.Errorf("psam-mcu: close: %w", err)
	}
	return nil
}
