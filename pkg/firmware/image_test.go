package firmware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadImageSplitsHeaderAndPayload(t *testing.T) {
	header := []byte{1, 2, 3, 0x78, 0x56, 0x34, 0x12}
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD}

	path := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(path, append(header, payload...), 0o644))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), img.Version.Major)
	assert.Equal(t, uint8(2), img.Version.Minor)
	assert.Equal(t, uint8(3), img.Version.Patch)
	assert.Equal(t, uint32(0x12345678), img.Version.Build)
	assert.Equal(t, payload, img.Data)
}

func TestLoadImageRejectsShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := LoadImage(path)
	assert.Error(t, err)
}
