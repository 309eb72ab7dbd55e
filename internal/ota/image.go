package ota

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	imageMagic      = 0xE9
	imageHeaderSize = 24
	maxSegments     = 16
)

// ImageHeader is the fixed header at the start of an ESP32 application image.
type ImageHeader struct {
	Magic        uint8
	SegmentCount uint8
	SPIMode      uint8
	SPISpeedSize uint8
	EntryAddr    uint32
	WPPin        uint8
	SPIPinDrv    [3]uint8
	ChipID       uint16
	MinChipRev   uint8
	MinRevFull   uint16
	MaxRevFull   uint16
	Reserved     [4]uint8
	HashAppended uint8
}

// ParseImageHeader decodes and sanity-checks the first bytes of a firmware image.
func ParseImageHeader(b []byte) (ImageHeader, error) {
	var h ImageHeader
	if len(b) < imageHeaderSize {
		return h, fmt.Errorf("%w: %d bytes is shorter than the image header", ErrBadImage, len(b))
	}
	if err := binary.Read(bytes.NewReader(b[:imageHeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if h.Magic != imageMagic {
		return h, fmt.Errorf("%w: magic 0x%02x (expected 0x%02x)", ErrBadImage, h.Magic, imageMagic)
	}
	if h.SegmentCount == 0 || h.SegmentCount > maxSegments {
		return h, fmt.Errorf("%w: %d segments", ErrBadImage, h.SegmentCount)
	}
	return h, nil
}
