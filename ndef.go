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

	"github.com/hsanjuan/go-ndef"
)

// NFC Forum Type 2 Tag TLV types
const (
	tlvNull          = 0x00
	tlvLockControl   = 0x01
	tlvMemoryControl = 0x02
	tlvNDEF          = 0x03
	tlvTerminator    = 0xFE

	// capability container magic number
	ccMagic = 0xE1
	ccPage  = 0x03
)

// NDEF errors
var (
	ErrNoNDEF       = fmt.Errorf("%w: no NDEF message", ErrProtocol)
	ErrNDEFTooLarge = fmt.Errorf("%w: NDEF message does not fit the tag", ErrParameter)
	errTLVTruncated = fmt.Errorf("%w: TLV area truncated", ErrProtocol)
)

// tlvLocation is where the NDEF message sits in the data area.
type tlvLocation struct {
	offset int
	length int
}

func (l tlvLocation) end() int { return l.offset + l.length }

// findNDEFTLV scans a Type 2 data area for the NDEF message TLV, skipping
// NULL, lock, memory and proprietary TLVs.
func findNDEFTLV(data []byte) (tlvLocation, error) {
	for off := 0; off < len(data); {
		switch t := data[off]; t {
		case tlvNull:
			off++
			continue
		case tlvTerminator:
			return tlvLocation{}, ErrNoNDEF
		default:
			n, hdr, err := tlvLength(data, off)
			if err != nil {
				return tlvLocation{}, err
			}
			if t == tlvNDEF {
				return tlvLocation{offset: off + hdr, length: n}, nil
			}
			off += hdr + n
		}
	}
	return tlvLocation{}, errTLVTruncated
}

// tlvLength decodes the 1 or 3 byte length of the TLV at off and returns it
// with the header size.
func tlvLength(data []byte, off int) (int, int, error) {
	if off+1 >= len(data) {
		return 0, 0, errTLVTruncated
	}
	if data[off+1] != 0xFF {
		return int(data[off+1]), 2, nil
	}
	if off+3 >= len(data) {
		return 0, 0, errTLVTruncated
	}
	return int(binary.BigEndian.Uint16(data[off+2:])), 4, nil
}

// encodeNDEFTLV wraps an encoded NDEF message in its TLV and a terminator,
// padded to whole pages.
func encodeNDEFTLV(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	if len(payload) < 0xFF {
		out = append(out, tlvNDEF, byte(len(payload)))
	} else {
		out = append(out, tlvNDEF, 0xFF, byte(len(payload)>>8), byte(len(payload)))
	}
	out = append(out, payload...)
	out = append(out, tlvTerminator)
	for len(out)%NTAGPageSize != 0 {
		out = append(out, tlvNull)
	}
	return out
}

// ParseNDEF decodes an NDEF message from a Type 2 data area.
func ParseNDEF(data []byte) (*ndef.Message, error) {
	loc, err := findNDEFTLV(data)
	if err != nil {
		return nil, err
	}
	if loc.end() > len(data) {
		return nil, errTLVTruncated
	}
	if loc.length == 0 {
		return nil, ErrNoNDEF
	}
	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(data[loc.offset:loc.end()]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoNDEF, err)
	}
	return msg, nil
}

// NewTextMessage builds a single text record message.
func NewTextMessage(text string) *ndef.Message {
	return ndef.NewMessageFromRecords(ndef.NewTextRecord(text, "en"))
}

// NewURIMessage builds a single URI record message.
func NewURIMessage(uri string) *ndef.Message {
	return ndef.NewMessageFromRecords(ndef.NewURIRecord(uri))
}

// ntagDataArea returns the size of the data area announced by the
// capability container.
func (e *engine) ntagDataArea() (int, error) {
	cc, err := e.NTAGReadPage(ccPage)
	if err != nil {
		return 0, err
	}
	if cc[0] != ccMagic {
		return 0, fmt.Errorf("%w: capability container 0x%02X", ErrNoNDEF, cc[0])
	}
	return int(cc[2]) * 8, nil
}

// readNDEF reads the NDEF TLV from the user area. The first four pages
// usually hold the whole TLV header; the rest is read only as needed.
func (e *engine) readNDEF() (*ndef.Message, error) {
	size, err := e.ntagDataArea()
	if err != nil {
		return nil, err
	}
	lastPage := NTAGUserStart + size/NTAGPageSize - 1
	if lastPage < NTAGUserStart {
		return nil, ErrNoNDEF
	}

	data, err := e.NTAGFastReadPage(NTAGUserStart, byte(min(NTAGUserStart+3, lastPage)))
	if err != nil {
		return nil, err
	}
	loc, err := findNDEFTLV(data)
	if err == nil && loc.end() <= len(data) {
		return ParseNDEF(data)
	}
	if err != nil && err != errTLVTruncated {
		return nil, err
	}

	// read the whole area once the header or the message runs past the
	// first window
	from := NTAGUserStart + len(data)/NTAGPageSize
	if from <= lastPage {
		more, err := e.NTAGFastReadPage(byte(from), byte(lastPage))
		if err != nil {
			return nil, err
		}
		data = append(data, more...)
	}
	return ParseNDEF(data)
}

// writeNDEF writes msg from the first user page on.
func (e *engine) writeNDEF(msg *ndef.Message) error {
	if msg == nil || len(msg.Records) == 0 {
		return fmt.Errorf("%w: empty NDEF message", ErrParameter)
	}
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParameter, err)
	}
	size, err := e.ntagDataArea()
	if err != nil {
		return err
	}
	tlv := encodeNDEFTLV(payload)
	if len(tlv) > size {
		return fmt.Errorf("%w: %d bytes, tag holds %d", ErrNDEFTooLarge, len(tlv), size)
	}
	for i := 0; i < len(tlv); i += NTAGPageSize {
		var page [NTAGPageSize]byte
		copy(page[:], tlv[i:])
		if err := e.NTAGWritePage(byte(NTAGUserStart+i/NTAGPageSize), page); err != nil {
			return err
		}
	}
	return nil
}

// uriPrefixes is the NFC Forum URI identifier code table.
var uriPrefixes = [...]string{
	"", "http://www.", "https://www.", "http://", "https://", "tel:", "mailto:",
	"ftp://anonymous:anonymous@", "ftp://ftp.", "ftps://", "sftp://", "smb://",
	"nfs://", "ftp://", "dav://", "news:", "telnet://", "imap:", "rtsp://",
	"urn:", "pop:", "sip:", "sips:", "tftp:", "btspp://", "btl2cap://",
	"btgoep://", "tcpobex://", "irdaobex://", "file://", "urn:epc:id:",
	"urn:epc:tag:", "urn:epc:pat:", "urn:epc:raw:", "urn:epc:", "urn:nfc:",
}

// MessageText returns the content of the first well-known text or URI
// record of msg.
func MessageText(msg *ndef.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	for _, rec := range msg.Records {
		if rec.TNF() != ndef.NFCForumWellKnownType {
			continue
		}
		p, err := rec.Payload()
		if err != nil {
			continue
		}
		raw := p.Marshal()
		switch rec.Type() {
		case "T":
			if s, ok := decodeTextPayload(raw); ok {
				return s, true
			}
		case "U":
			if s, ok := decodeURIPayload(raw); ok {
				return s, true
			}
		}
	}
	return "", false
}

// decodeTextPayload strips the status byte and language code.
func decodeTextPayload(p []byte) (string, bool) {
	if len(p) < 1 {
		return "", false
	}
	langLen := int(p[0] & 0x3F)
	if len(p) < 1+langLen {
		return "", false
	}
	return string(p[1+langLen:]), true
}

func decodeURIPayload(p []byte) (string, bool) {
	if len(p) < 1 || int(p[0]) >= len(uriPrefixes) {
		return "", false
	}
	return uriPrefixes[p[0]] + string(p[1:]), true
}
