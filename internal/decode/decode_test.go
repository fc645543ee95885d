package decode

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetpipe/assetpipe/pkg/types"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImage(t *testing.T) {
	data := encodePNG(t, 8, 4)

	v, err := Image{}.Decode("hero.png", data)
	require.NoError(t, err)

	img, ok := v.(*types.Image)
	require.True(t, ok)
	assert.Equal(t, "hero.png", img.Source())
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 8, img.Width)
	assert.Equal(t, 4, img.Height)
	assert.Equal(t, data, img.Data)
}

func TestImage_GIF(t *testing.T) {
	pal := image.NewPaletted(image.Rect(0, 0, 3, 5), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, pal, nil))

	v, err := Image{}.Decode("a.gif", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "gif", v.(*types.Image).Format)
	assert.Equal(t, 5, v.(*types.Image).Height)
}

func TestImage_Malformed(t *testing.T) {
	_, err := Image{}.Decode("bad.png", []byte("not an image"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestData(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"object", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"array", `[1,"x"]`, []any{float64(1), "x"}},
		{"string", `"s"`, "s"},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Data{}.Decode("d.json", []byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestData_Malformed(t *testing.T) {
	for _, input := range []string{"", "{", "<html>"} {
		_, err := Data{}.Decode("d.json", []byte(input))
		assert.ErrorIs(t, err, ErrMalformed, input)
	}
}

func TestSniffAudio(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), "wav"},
		{"ogg", []byte("OggS\x00\x02"), "ogg"},
		{"flac", []byte("fLaC\x00"), "flac"},
		{"id3", []byte("ID3\x04\x00"), "mp3"},
		{"mpeg sync", []byte{0xFF, 0xFB, 0x90, 0x64}, "mp3"},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, "webm"},
		{"riff not wave", []byte("RIFF\x24\x00\x00\x00AVI LIST"), ""},
		{"short", []byte("RI"), ""},
		{"text", []byte("hello"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SniffAudio(tt.data))
		})
	}
}

func TestAudio(t *testing.T) {
	v, err := Audio{}.Decode("theme.ogg", []byte("OggS\x00\x02rest"))
	require.NoError(t, err)

	a := v.(*types.Audio)
	assert.Equal(t, "ogg", a.Format)
	assert.Equal(t, "theme.ogg", a.Source())
	assert.False(t, a.Playing())

	_, err = Audio{}.Decode("bad.mp3", []byte("nope"))
	assert.ErrorIs(t, err, ErrMalformed)
}
