package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/gallery"
	"github.com/pikoshi/pikoshi/internal/model"
)

const (
	boundaryPrefix = "pikoshi_app_boundary_"
	cursorLifetime = 24 * time.Hour
)

// GalleryOptions tunes the gallery routes.
type GalleryOptions struct {
	StreamDelay    time.Duration // pause between streamed parts
	MaxUploadBytes int64
}

// GalleryHandler serves the /gallery routes. Every route runs behind
// auth.RequireAuth.
type GalleryHandler struct {
	gallery Gallery
	cookies auth.CookieWriter
	opts    GalleryOptions
	logger  *slog.Logger
}

// NewGalleryHandler creates a GalleryHandler.
func NewGalleryHandler(g Gallery, cookies auth.CookieWriter, opts GalleryOptions, logger *slog.Logger) *GalleryHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	return &GalleryHandler{gallery: g, cookies: cookies, opts: opts, logger: logger}
}

// SingleResponse carries one image inline.
type SingleResponse struct {
	FileName      string           `json:"fileName"`
	Resolution    model.Resolution `json:"resolution"`
	ContentType   string           `json:"contentType"`
	ImageAsBase64 string           `json:"imageAsBase64"`
}

// CountResponse is the body of the image-count route.
type CountResponse struct {
	Count int `json:"count"`
}

type singleRequest struct {
	FileName      string `json:"filename"`
	ViewportWidth int    `json:"viewport_width"`
}

// HandleDefaultGallery streams one page of thumbnails.
//
// HTTP: POST /gallery/default-gallery/[?restart=1]
//
// RESPONSE FRAMING:
//
//	Content-Type: multipart/form-data; boundary=pikoshi_app_boundary_{uuid}
//	X-Boundary:   pikoshi_app_boundary_{uuid}
//
//	--pikoshi_app_boundary_{uuid}
//	Content-Disposition: form-data; name="file"; filename="beach.jpg"
//	Content-Type: image/webp
//	Content-Transfer-Encoding: base64
//
//	UklGR...
//	--pikoshi_app_boundary_{uuid}--
//
// The page starts at the s3_continuation_token cookie and the cookie is
// advanced before the first byte is written, to "None" after the last page.
// Parts are flushed one by one, StreamDelay apart, so the browser can
// render each thumbnail as it lands.
func (h *GalleryHandler) HandleDefaultGallery(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	cursor := gallery.Start()
	if r.URL.Query().Get("restart") == "" {
		if c, err := r.Cookie(auth.ContinuationCookie); err == nil {
			cursor = gallery.ParseCursor(c.Value)
		}
	}

	listing, err := h.gallery.DefaultGallery(r.Context(), user, cursor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	boundary := boundaryPrefix + uuid.NewString()
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.cookies.SetContinuation(w, listing.Page.Next.String(), time.Now().Add(cursorLifetime))
	w.Header().Set("Content-Type", mw.FormDataContentType())
	w.Header().Set("X-Boundary", boundary)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	ctx := r.Context()
	for i, obj := range listing.Page.Objects {
		if i > 0 && h.opts.StreamDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.opts.StreamDelay):
			}
		}

		img, err := h.gallery.Image(ctx, user, listing.Bucket, obj.Key)
		if err != nil {
			// The status line is gone; skip the part and keep streaming.
			h.logger.Error("streaming gallery image",
				slog.String("bucket", listing.Bucket),
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := writeImagePart(mw, img); err != nil {
			h.logger.Warn("client went away mid-stream", slog.String("error", err.Error()))
			return
		}
		_ = rc.Flush()
	}

	if err := mw.Close(); err != nil {
		h.logger.Warn("closing gallery stream", slog.String("error", err.Error()))
	}
}

func writeImagePart(mw *multipart.Writer, img *model.ImageObject) error {
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/webp"
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": img.FileName,
	}))
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	enc := base64.NewEncoder(base64.StdEncoding, part)
	if _, err := enc.Write(img.Data); err != nil {
		return err
	}
	return enc.Close()
}

// HandleDefaultSingle returns one image of the default album at the
// resolution the viewport calls for.
//
// HTTP: POST /gallery/default-single/   {"filename": "...", "viewport_width": 390}
func (h *GalleryHandler) HandleDefaultSingle(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	var req singleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	img, err := h.gallery.Single(r.Context(), user, req.FileName, req.ViewportWidth)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, SingleResponse{
		FileName:      img.FileName,
		Resolution:    img.Resolution,
		ContentType:   img.ContentType,
		ImageAsBase64: base64.StdEncoding.EncodeToString(img.Data),
	})
}

// HandleUpload stores an image at every resolution.
//
// HTTP: POST /gallery/upload/   multipart/form-data, field "file"
func (h *GalleryHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "payload_too_large",
				Message: "image exceeds the upload limit",
			})
			return
		}
		writeError(w, h.logger, apperror.ValidationFailed("file", "expected a multipart form with a file field"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("file", "file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("file", "could not read the uploaded file"))
		return
	}

	set, err := h.gallery.Upload(r.Context(), user, header.Filename, data)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, set)
}

// HandleImageCount returns how many images the default album holds.
//
// HTTP: POST /gallery/image-count/
func (h *GalleryHandler) HandleImageCount(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	n, err := h.gallery.Count(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h *GalleryHandler) user(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized())
	}
	return u, ok
}
