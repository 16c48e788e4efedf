package converter

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noSeekReader struct {
	*bytes.Reader
}

var errNoSeek = errors.New("seek not supported")

func (r noSeekReader) Seek(offset int64, whence int) (int64, error) {
	return 0, errNoSeek
}

func TestDecodeImage(t *testing.T) {
	img, err := decodeImage(bytes.NewReader(testPNG(t)), "skin.png")
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	// a failed rewind before the tga retry is reported
	_, err = decodeImage(noSeekReader{bytes.NewReader([]byte("not an image"))}, "skin.tga")
	assert.ErrorIs(t, err, errNoSeek)

	_, err = decodeImage(bytes.NewReader([]byte("not an image")), "skin.bmp")
	assert.Error(t, err)
}
