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

import "fmt"

// CardType is the classified card family reported to callbacks. The values
// are the output codes used by the terminal's card info record.
type CardType byte

const (
	// CardTypeA is an ISO14443 Type A card that matched no finer class.
	CardTypeA CardType = 0x40
	// CardTypeUltralight covers MIFARE Ultralight and NTAG21x.
	CardTypeUltralight CardType = 0x41
	// CardTypeMF1S503 is a MIFARE Classic EV1 1K with a 4-byte UID.
	CardTypeMF1S503 CardType = 0x42
	// CardTypeMF1S703 is a MIFARE Classic 4K.
	CardTypeMF1S703 CardType = 0x43
	// CardTypeCPUA is an ISO14443-4 Type A smart card.
	CardTypeCPUA CardType = 0x44
	// CardTypeDESFire is a MIFARE DESFire.
	CardTypeDESFire CardType = 0x45
	// CardTypeIdentity is a resident identity card.
	CardTypeIdentity CardType = 0x46
	// CardTypeISO15693 is a vicinity card.
	CardTypeISO15693 CardType = 0x47
	// CardTypeB is an ISO14443 Type B card that is not ISO14443-4.
	CardTypeB CardType = 0x4A
	// CardTypeCPUB is an ISO14443-4 Type B smart card.
	CardTypeCPUB CardType = 0x4B
	// CardTypeM1 is a MIFARE Classic that is not one of the EV1 variants.
	CardTypeM1 CardType = 0x4C
	// CardTypeFeliCa is a FeliCa card.
	CardTypeFeliCa CardType = 0x4D
	// CardTypePlus is a MIFARE Plus.
	CardTypePlus CardType = 0x4E
	// CardTypeMF1S500 is a MIFARE Classic EV1 1K with a 7-byte UID.
	CardTypeMF1S500 CardType = 0x52
	// CardTypeIDCardCloud is an identity card resolved through a remote
	// decoding service.
	CardTypeIDCardCloud CardType = 0x61
	// CardTypeNotSupported marks a card that answered but cannot be served.
	CardTypeNotSupported CardType = 0x7F
)

func (t CardType) String() string {
	switch t {
	case CardTypeA:
		return "TypeA"
	case CardTypeUltralight:
		return "Ultralight"
	case CardTypeMF1S503:
		return "MF1S503"
	case CardTypeMF1S703:
		return "MF1S703"
	case CardTypeCPUA:
		return "CPU-A"
	case CardTypeDESFire:
		return "DESFire"
	case CardTypeIdentity:
		return "IdentityCard"
	case CardTypeISO15693:
		return "ISO15693"
	case CardTypeB:
		return "TypeB"
	case CardTypeCPUB:
		return "CPU-B"
	case CardTypeM1:
		return "M1"
	case CardTypeFeliCa:
		return "FeliCa"
	case CardTypePlus:
		return "MifarePlus"
	case CardTypeMF1S500:
		return "MF1S500"
	case CardTypeIDCardCloud:
		return "IDCardCloud"
	case CardTypeNotSupported:
		return "NotSupported"
	default:
		return fmt.Sprintf("CardType(0x%02X)", byte(t))
	}
}

// IsMifareClassic reports whether the type speaks the Crypto1 command set.
func (t CardType) IsMifareClassic() bool {
	switch t {
	case CardTypeMF1S503, CardTypeMF1S500, CardTypeMF1S703, CardTypeM1:
		return true
	default:
		return false
	}
}

// SAK bits used for classification (NXP AN10833)
const (
	sakUIDIncomplete = 0x04
	sakClassic       = 0x08
	sakClassic4K     = 0x10
	sakISO14443P4    = 0x20
)

// ClassifyTypeA maps the activation parameters of a Type A card to a
// CardType. sak28AsCPU decides how dual-interface cards answering SAK 0x28
// are reported.
func ClassifyTypeA(atqa [2]byte, sak byte, uidLen int, sak28AsCPU bool) CardType {
	switch sak {
	case 0x08, 0x88:
		if uidLen == 7 {
			return CardTypeMF1S500
		}
		if atqa[0] == 0x04 && atqa[1] == 0x00 {
			return CardTypeMF1S503
		}
		return CardTypeM1
	case 0x09:
		return CardTypeM1
	case 0x18, 0x98, 0xB8:
		return CardTypeMF1S703
	case 0x00:
		return CardTypeUltralight
	case 0x10, 0x11:
		return CardTypePlus
	case 0x28, 0x38:
		if sak28AsCPU {
			return CardTypeCPUA
		}
		if sak == 0x38 {
			return CardTypeMF1S703
		}
		return CardTypeM1
	}

	if sak&sakISO14443P4 != 0 {
		// DESFire answers ATQA 0x0344
		if atqa[0] == 0x44 && atqa[1] == 0x03 {
			return CardTypeDESFire
		}
		return CardTypeCPUA
	}
	return CardTypeA
}

// ClassifyTypeB maps a Type B activation to a CardType.
func ClassifyTypeB(iso14443P4, identity bool) CardType {
	switch {
	case identity:
		return CardTypeIdentity
	case iso14443P4:
		return CardTypeCPUB
	default:
		return CardTypeB
	}
}
