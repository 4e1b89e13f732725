package firmware

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/chargebridge/hostbridge/pkg/wire"
)

// imageHeaderSize is the 7-byte version header LoadImage expects to
// find at the start of an fw_file: major/minor/patch as single bytes
// followed by a little-endian build counter, ahead of the raw firmware
// payload. original_source bundles version metadata alongside the
// image rather than deriving it from the file itself, so this header
// is a direct (if differently serialized) stand-in for that metadata.
const imageHeaderSize = 1 + 1 + 1 + 4

// LoadImage reads a bundled firmware file from disk and splits it into
// its declared version and raw payload, for the bridge supervisor's S2
// FirmwareCheck state to pass to CheckAndUpdate.
func LoadImage(path string) (Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("firmware: read image %s: %w", path, err)
	}
	if len(raw) < imageHeaderSize {
		return Image{}, fmt.Errorf("firmware: image %s shorter than version header", path)
	}
	img := Image{
		Version: FirmwareVersionFromHeader(raw[:imageHeaderSize]),
		Data:    append([]byte(nil), raw[imageHeaderSize:]...),
	}
	return img, nil
}

// FirmwareVersionFromHeader decodes the 7-byte version prefix LoadImage
// expects; exported so tests and packaging tools can construct the
// header without duplicating its layout.
func FirmwareVersionFromHeader(header []byte) wire.FirmwareVersion {
	return wire.FirmwareVersion{
		Major: header[0],
		Minor: header[1],
		Patch: header[2],
		Build: binary.LittleEndian.Uint32(header[3:7]),
	}
}
