package gallery

import (
	"bytes"
	"context"
	"image/color"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngOf returns a solid w×h PNG.
func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func webpSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestRender_FitsWithinBoxes(t *testing.T) {
	src := pngOf(t, 1000, 500)

	out, err := NewResizer().Render(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, out, 3)

	orig := out[model.ResolutionOriginal]
	assert.Equal(t, src, orig.Data, "original is stored verbatim")
	assert.Equal(t, "image/png", orig.ContentType)

	// 2:1 source: width is the binding side for both boxes.
	w, h := webpSize(t, out[model.ResolutionMobile].Data)
	assert.Equal(t, [2]int{480, 240}, [2]int{w, h})
	assert.Equal(t, "image/webp", out[model.ResolutionMobile].ContentType)

	w, h = webpSize(t, out[model.ResolutionThumbnail].Data)
	assert.Equal(t, [2]int{300, 150}, [2]int{w, h})
}

func TestRender_TallImage(t *testing.T) {
	out, err := NewResizer().Render(context.Background(), pngOf(t, 400, 800))
	require.NoError(t, err)

	// 1:2 source: height is the binding side.
	w, h := webpSize(t, out[model.ResolutionThumbnail].Data)
	assert.Equal(t, [2]int{100, 200}, [2]int{w, h})
}

func TestRender_NeverUpscales(t *testing.T) {
	out, err := NewResizer().Render(context.Background(), pngOf(t, 120, 80))
	require.NoError(t, err)

	w, h := webpSize(t, out[model.ResolutionMobile].Data)
	assert.Equal(t, [2]int{120, 80}, [2]int{w, h})
}

func TestRender_RejectsNonImage(t *testing.T) {
	_, err := NewResizer().Render(context.Background(), []byte("definitely not a jpeg"))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestPlaceholder_RenderedOnce(t *testing.T) {
	var p placeholders
	r := NewResizer()

	first, err := p.get(r)
	require.NoError(t, err)
	second, err := p.get(r)
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, "image/webp", first[model.ResolutionOriginal].ContentType)
	// Same cached bytes, not a re-render.
	assert.Same(t, &first[model.ResolutionThumbnail].Data[0], &second[model.ResolutionThumbnail].Data[0])
}
