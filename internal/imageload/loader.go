// Package imageload resolves feedback image references into normalized tensors.
package imageload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedReference = errors.New("unsupported image reference")
	ErrImageTooLarge        = errors.New("image exceeds size limit")
	ErrDecode               = errors.New("failed to decode image")
)

// Mode selects the preprocessing pipeline.
type Mode int

const (
	// ModeTrain resizes the shorter side and center-crops.
	ModeTrain Mode = iota
	// ModeEval resizes straight to the crop size.
	ModeEval
)

// Options configures a Loader.
type Options struct {
	Timeout       time.Duration
	MaxBytes      int64
	ResizeShorter int
	CropSize      int
	HTTPClient    *http.Client
}

// DefaultOptions returns the standard preprocessing settings.
func DefaultOptions() Options {
	return Options{
		Timeout:       10 * time.Second,
		MaxBytes:      10 << 20,
		ResizeShorter: 256,
		CropSize:      224,
	}
}

// Loader fetches, decodes and preprocesses images.
type Loader struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// New creates a Loader. Zero option fields take their defaults.
func New(opts Options, logger *slog.Logger) *Loader {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.ResizeShorter <= 0 {
		opts.ResizeShorter = def.ResizeShorter
	}
	if opts.CropSize <= 0 {
		opts.CropSize = def.CropSize
	}
	if opts.CropSize > opts.ResizeShorter {
		opts.ResizeShorter = opts.CropSize
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Loader{
		opts:   opts,
		client: client,
		logger: logger,
	}
}

// CropSize returns the side length of produced tensors.
func (l *Loader) CropSize() int {
	return l.opts.CropSize
}

// Load resolves a data: or http(s) reference and applies the training transform.
func (l *Loader) Load(ctx context.Context, ref string) (*Tensor, error) {
	data, err := l.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	return l.Transform(img, ModeTrain), nil
}

// LoadFile reads an image from disk and applies the given transform.
func (l *Loader) LoadFile(path string, mode Mode) (*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	data, err := readLimited(f, l.opts.MaxBytes)
	if err != nil {
		return nil, err
	}

	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	return l.Transform(img, mode), nil
}

// Transform resizes img according to mode and converts it to a tensor.
func (l *Loader) Transform(img image.Image, mode Mode) *Tensor {
	crop := l.opts.CropSize
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if mode == ModeEval {
		dst := image.NewNRGBA(image.Rect(0, 0, crop, crop))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return fromRegion(dst, 0, 0, crop, crop)
	}

	short := l.opts.ResizeShorter
	nw, nh := short, short
	if w < h {
		nh = int(math.Round(float64(h) * float64(short) / float64(w)))
	} else if h < w {
		nw = int(math.Round(float64(w) * float64(short) / float64(h)))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	left := int(math.Round(float64(nw-crop) / 2))
	top := int(math.Round(float64(nh-crop) / 2))
	return fromRegion(dst, left, top, crop, crop)
}

func (l *Loader) fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		data, err := decodeDataURL(ref)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > l.opts.MaxBytes {
			return nil, ErrImageTooLarge
		}
		return data, nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.download(ctx, ref)
	default:
		return nil, ErrUnsupportedReference
	}
}

func (l *Loader) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := readLimited(resp.Body, l.opts.MaxBytes)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("downloaded image", "url", url, "bytes", len(data))
	return data, nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > max {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

func decodeDataURL(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, ErrUnsupportedReference
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some clients strip padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 payload", ErrDecode)
		}
	}
	return data, nil
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, nil
}
