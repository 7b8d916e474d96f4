package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pixiv/go-libjpeg/jpeg"
)

// DefaultMaxPixels is the largest frame, in pixels, a source header may
// declare before decoding is refused.
const DefaultMaxPixels = 100_000_000

// ErrTooLarge is returned when a source declares more pixels than allowed.
var ErrTooLarge = errors.New("image exceeds pixel limit")

// Decoder decodes sources reduced by the sample factor for a requested size.
// JPEG sources are scaled by libjpeg while decoding, so only the reduced
// frame is allocated. Other formats are decoded in full and box filtered.
type Decoder struct {
	// MaxPixels rejects a source whose header declares more pixels, before
	// any pixel data is read. Zero disables the check.
	MaxPixels int64
}

var defaultDecoder = Decoder{MaxPixels: DefaultMaxPixels}

// Probe reads only the image header from r and returns its dimensions.
func Probe(r io.Reader) (width int, height int, err error) {
	cfg, _, err := probe(r)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func probe(r io.Reader) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("probe image: %w", err)
	}
	return cfg, format, nil
}

// DecodeSeekable decodes r with the default pixel limit.
func DecodeSeekable(r io.ReadSeeker, reqWidth, reqHeight int) (image.Image, error) {
	return defaultDecoder.DecodeSeekable(r, reqWidth, reqHeight)
}

// DecodeBuffered decodes r with the default pixel limit.
func DecodeBuffered(r io.Reader, reqWidth, reqHeight int) (image.Image, error) {
	return defaultDecoder.DecodeBuffered(r, reqWidth, reqHeight)
}

// DecodeSeekable probes r, rewinds it to where it started and decodes it
// reduced by the sample factor for the requested size.
func (d Decoder) DecodeSeekable(r io.ReadSeeker, reqWidth, reqHeight int) (image.Image, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locate stream: %w", err)
	}

	cfg, format, err := probe(r)
	if err != nil {
		return nil, err
	}
	if err := d.checkSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind stream: %w", err)
	}

	return decodeAt(r, format, cfg.Width, cfg.Height, SampleFactor(cfg.Width, cfg.Height, reqWidth, reqHeight))
}

// DecodeBuffered reads r completely into memory once and decodes from that
// buffer. It yields the same image DecodeSeekable does for the same bytes.
func (d Decoder) DecodeBuffered(r io.Reader, reqWidth, reqHeight int) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("buffer stream: %w", err)
	}
	return d.DecodeSeekable(bytes.NewReader(data), reqWidth, reqHeight)
}

func (d Decoder) checkSize(width, height int) error {
	if d.MaxPixels > 0 && int64(width)*int64(height) > d.MaxPixels {
		return fmt.Errorf("%w: %dx%d is more than %d pixels", ErrTooLarge, width, height, d.MaxPixels)
	}
	return nil
}

// decodeAt decodes a width x height source reduced by factor. libjpeg scales
// by at most 1/8 and rounds up, so its output is box filtered to the exact
// size when the two disagree.
func decodeAt(r io.Reader, format string, width, height, factor int) (image.Image, error) {
	factor = max(factor, 1)
	w := max(width/factor, 1)
	h := max(height/factor, 1)

	var (
		img image.Image
		err error
	)
	if format == "jpeg" {
		img, err = jpeg.Decode(r, &jpeg.DecoderOptions{ScaleTarget: image.Rect(0, 0, w, h)})
	} else {
		img, err = imaging.Decode(r)
	}
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Box), nil
}
