package gallery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pikoshi/pikoshi/internal/model"
)

// PlaceholderFileName is the name under which the seed image is stored, so
// it hashes to the same object name for every user.
const PlaceholderFileName = "pikoshi_placeholder.webp"

// placeholders renders the seed image once per process.
type placeholders struct {
	once       sync.Once
	renditions map[model.Resolution]Rendition
	err        error
}

// The render is cached, including a failure, so it must not depend on any
// request's context.
func (p *placeholders) get(r Resizer) (map[model.Resolution]Rendition, error) {
	p.once.Do(func() {
		var src []byte
		src, p.err = renderPlaceholder()
		if p.err != nil {
			return
		}
		p.renditions, p.err = r.Render(context.Background(), src)
	})
	return p.renditions, p.err
}

// renderPlaceholder draws a 1200x800 diagonal gradient and encodes it as
// WebP. It stands in for a photo until the user uploads one.
func renderPlaceholder() ([]byte, error) {
	const w, h = 1200, 800
	img := imaging.New(w, h, color.NRGBA{A: 255})
	for y := range h {
		for x := range w {
			t := float64(x+y) / float64(w+h)
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(40 + 120*t),
				G: uint8(90 + 80*t),
				B: uint8(160 - 60*t),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, image.Image(img), &webp.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("gallery: encoding placeholder: %w", err)
	}
	return buf.Bytes(), nil
}
