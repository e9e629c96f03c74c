package cover

import (
	"errors"
	"fmt"

	"github.com/yuanying/epubstream/internal/epub"
	"github.com/yuanying/epubstream/internal/zipentry"
)

// Result is the outcome of probing one book.
type Result struct {
	Info   epub.CoverInfo
	Thumb  Thumbnail
	Status Status
}

// HasCover reports whether a thumbnail was produced.
func (r Result) HasCover() bool { return r.Status == StatusOK }

// Probe resolves the cover of pkg and decodes it. Anything wrong with the
// cover itself is reported through Result.Status; only failures of the
// underlying storage are returned as errors.
func Probe(pkg *epub.OPF, load epub.DocLoader, opts Options) (Result, error) {
	opts = opts.withDefaults()

	info, err := pkg.ResolveCover(load)
	if errors.Is(err, epub.ErrNoCoverResource) {
		return Result{Status: StatusNoCover}, nil
	}
	if err != nil {
		return Result{}, err
	}
	res := Result{Info: info}

	data, err := load(info.Href, int64(opts.MaxBytes))
	switch {
	case err == nil:
	case errors.Is(err, zipentry.ErrEntryNotFound):
		opts.Logger.Debug("cover resource missing from archive", "href", info.Href)
		res.Status = StatusNoCover
		return res, nil
	case errors.Is(err, zipentry.ErrEntryTooLarge):
		res.Status = StatusTooLarge
		return notDecoded(res, opts), nil
	case errors.Is(err, zipentry.ErrCorruptArchive), errors.Is(err, zipentry.ErrUnsupportedCompression):
		opts.Logger.Debug("cover resource unreadable", "href", info.Href, "error", err)
		res.Status = StatusDecodeFailed
		return notDecoded(res, opts), nil
	default:
		return Result{}, fmt.Errorf("failed to read cover %s: %w", info.Href, err)
	}

	res.Thumb, res.Status = Decode(data, info.MediaType, opts)
	if res.Status != StatusOK {
		return notDecoded(res, opts), nil
	}
	return res, nil
}

func notDecoded(res Result, opts Options) Result {
	opts.Logger.Info("cover not decoded", "href", res.Info.Href, "status", res.Status.String(), "error", res.Status.Err())
	return res
}
