package gallery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/model"
	"golang.org/x/sync/errgroup"
)

const webpContentType = "image/webp"

// bounds are the fit-within boxes for the derived renditions.
var bounds = map[model.Resolution]image.Point{
	model.ResolutionMobile:    {X: 480, Y: 320},
	model.ResolutionThumbnail: {X: 300, Y: 200},
}

// Rendition is one encoded variant of an upload.
type Rendition struct {
	Resolution  model.Resolution
	ContentType string
	Data        []byte
}

// Resizer derives the mobile and thumbnail renditions of a source image.
type Resizer struct {
	// Quality is the lossy WebP quality, 0-100.
	Quality float32
}

// NewResizer returns a Resizer with the default quality.
func NewResizer() Resizer {
	return Resizer{Quality: 80}
}

// Render returns the three renditions of src.
//
// The original is stored verbatim. Mobile and thumbnail are scaled to fit
// their box, preserving aspect ratio and never upscaling, then re-encoded as
// lossy WebP. The two resizes run concurrently; resizing is the only
// CPU-bound work in a request.
func (r Resizer) Render(ctx context.Context, src []byte) (map[model.Resolution]Rendition, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperror.ValidationFailed("file", "file is not a supported image")
	}

	out := map[model.Resolution]Rendition{
		model.ResolutionOriginal: {
			Resolution:  model.ResolutionOriginal,
			ContentType: http.DetectContentType(src),
			Data:        src,
		},
	}

	derived := []model.Resolution{model.ResolutionMobile, model.ResolutionThumbnail}
	results := make([]Rendition, len(derived))

	g, ctx := errgroup.WithContext(ctx)
	for i, res := range derived {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := r.fitWebP(img, bounds[res])
			if err != nil {
				return fmt.Errorf("gallery: rendering %s: %w", res, err)
			}
			results[i] = Rendition{Resolution: res, ContentType: webpContentType, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rendition := range results {
		out[rendition.Resolution] = rendition
	}
	return out, nil
}

func (r Resizer) fitWebP(img image.Image, box image.Point) ([]byte, error) {
	// imaging.Fit returns a copy unchanged when img already fits the box.
	scaled := imaging.Fit(img, box.X, box.Y, imaging.Lanczos)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, scaled, &webp.Options{Quality: r.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
