// Package ingest turns source images into cache tier attachments: the source
// is probed, decoded at a reduced size when a target size is given and
// re-encoded as JPEG under <baseName>.jpg.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"attic/internal/metrics"
	"attic/internal/source"
	"attic/internal/storage"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// OutputExtension is the extension of every ingested file.
const OutputExtension = "jpg"

const DefaultQuality = 100

type options struct {
	width   int
	height  int
	quality int
}

type Option func(*options)

// WithTargetSize requests a decode no smaller than width x height. Zero for
// either dimension keeps the native resolution.
func WithTargetSize(width, height int) Option {
	return func(o *options) {
		o.width = width
		o.height = height
	}
}

// WithQuality sets the JPEG quality, 0 to 100.
func WithQuality(quality int) Option {
	return func(o *options) {
		o.quality = quality
	}
}

// Claimer is told about every attachment the ingestor writes.
// *storage.Engine implements it to drop stale orphan records for the path.
type Claimer interface {
	Claim(tier storage.Tier, name storage.FileName)
}

// Ingestor writes decoded sources into the cache tier.
type Ingestor struct {
	fs      afero.Fs
	layout  *storage.Layout
	sources source.Provider
	metrics *metrics.Metrics
	decoder Decoder
	claimer Claimer
}

type IngestorOption func(*Ingestor)

// WithMaxPixels sets the largest source frame accepted. Zero disables the
// limit.
func WithMaxPixels(n int64) IngestorOption {
	return func(i *Ingestor) {
		i.decoder.MaxPixels = n
	}
}

func WithClaimer(c Claimer) IngestorOption {
	return func(i *Ingestor) {
		i.claimer = c
	}
}

func New(fsys afero.Fs, layout *storage.Layout, sources source.Provider, m *metrics.Metrics, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{fs: fsys, layout: layout, sources: sources, metrics: m, decoder: defaultDecoder}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest decodes the image at uri and stores it in the cache tier as
// <baseName>.jpg, replacing any file of that name. It returns the name
// written.
func (i *Ingestor) Ingest(ctx context.Context, uri string, baseName string, opts ...Option) (name storage.FileName, err error) {
	defer i.metrics.Observe("ingest", time.Now(), &err)

	o := options{quality: DefaultQuality}
	for _, opt := range opts {
		opt(&o)
	}

	name, err = outputName(baseName)
	if err != nil {
		return storage.FileName{}, err
	}
	if o.quality < 0 || o.quality > 100 {
		return storage.FileName{}, &storage.Error{Kind: storage.InvalidParameter, Op: "ingest", Err: fmt.Errorf("quality %d out of range 0..100", o.quality)}
	}
	if o.width < 0 || o.height < 0 {
		return storage.FileName{}, &storage.Error{Kind: storage.InvalidParameter, Op: "ingest", Err: fmt.Errorf("negative target size %dx%d", o.width, o.height)}
	}

	img, err := i.decode(ctx, uri, o.width, o.height)
	if err != nil {
		return storage.FileName{}, err
	}
	i.metrics.FrameDecoded()
	defer i.metrics.FrameReleased()

	dest := i.layout.Path(storage.Cache, name)
	if err := i.write(img, dest, o.quality); err != nil {
		return storage.FileName{}, err
	}
	if i.claimer != nil {
		i.claimer.Claim(storage.Cache, name)
	}

	bounds := img.Bounds()
	slog.Debug("Ingested attachment", "source", uri, "name", name.String(), "width", bounds.Dx(), "height", bounds.Dy())
	return name, nil
}

func outputName(baseName string) (storage.FileName, error) {
	if strings.TrimSpace(baseName) == "" {
		return storage.FileName{}, &storage.ValidationError{Input: baseName, Reason: storage.ReasonBlank}
	}
	return storage.ParseImageName(baseName + "." + OutputExtension)
}

func (i *Ingestor) decode(ctx context.Context, uri string, width, height int) (image.Image, error) {
	rc, err := i.sources.Open(ctx, uri)
	if err != nil {
		if errors.Is(err, source.ErrUnsupportedScheme) {
			return nil, &storage.Error{Kind: storage.InvalidParameter, Op: "open source", Path: uri, Err: err}
		}
		return nil, storage.NewError("open source", uri, err, storage.ReadFailure)
	}
	defer rc.Close()

	var img image.Image
	if rs, ok := rc.(io.ReadSeeker); ok {
		img, err = i.decoder.DecodeSeekable(rs, width, height)
	} else {
		img, err = i.decoder.DecodeBuffered(rc, width, height)
	}
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, &storage.Error{Kind: storage.InvalidParameter, Op: "decode", Path: uri, Err: err}
		}
		return nil, storage.NewError("decode", uri, err, storage.ReadFailure)
	}
	return img, nil
}

// write encodes img into a temporary file next to dest and renames it into
// place, so a failed encode never leaves a truncated attachment behind.
func (i *Ingestor) write(img image.Image, dest string, quality int) (err error) {
	tmp := filepath.Join(filepath.Dir(dest), "."+uuid.NewString()+".tmp")

	f, err := i.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return storage.NewError("create", tmp, err, storage.WriteFailure)
	}

	defer func() {
		if err == nil {
			return
		}
		if rmErr := i.fs.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("Failed to remove partial ingest", "path", tmp, "error", rmErr)
		}
	}()

	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		_ = f.Close()
		return storage.NewError("encode", dest, err, storage.WriteFailure)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return storage.NewError("sync", dest, err, storage.WriteFailure)
	}

	if err := f.Close(); err != nil {
		return storage.NewError("close", dest, err, storage.WriteFailure)
	}

	if err := i.fs.Rename(tmp, dest); err != nil {
		return storage.NewError("rename", dest, err, storage.WriteFailure)
	}
	return nil
}
