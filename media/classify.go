package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/use-agent/mediagrab/models"
)

// Classifier confirms candidates over the network and turns them into
// records. It performs no retries.
type Classifier struct {
	Client *http.Client

	// Timeout is the per-request deadline. Default 5s.
	Timeout time.Duration

	// ThumbnailEdge caps the thumbnail's long edge. Default 200.
	ThumbnailEdge int

	// MaxImageBytes caps how much of an image body is read. Default 20 MiB.
	MaxImageBytes int64
}

// ImageInfo is what ClassifyImage learns about an image.
type ImageInfo struct {
	SizeBytes     int64
	ContentType   string
	Thumbnail     []byte
	ThumbnailType string
}

// ClassifyImage fetches url with headers, confirms the content type and
// produces a thumbnail.
func (c *Classifier) ClassifyImage(ctx context.Context, url string, headers models.HeaderSet) (*ImageInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.ClassificationError{Kind: models.ClassifyRequest, URL: url, Err: err}
	}
	headers.Apply(req)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &models.ClassificationError{Kind: models.ClassifyRequest, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.ClassificationError{Kind: models.ClassifyStatus, URL: url, Status: resp.StatusCode}
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(ct), "image") {
		return nil, &models.ClassificationError{
			Kind: models.ClassifyContentType,
			URL:  url,
			Err:  fmt.Errorf("content-type %q", ct),
		}
	}

	limit := c.maxImageBytes()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &models.ClassificationError{Kind: models.ClassifyRequest, URL: url, Err: err}
	}
	if int64(len(body)) > limit {
		return nil, &models.ClassificationError{
			Kind: models.ClassifyDecode,
			URL:  url,
			Err:  fmt.Errorf("image larger than %d bytes", limit),
		}
	}

	thumb, thumbType, err := MakeThumbnail(body, c.ThumbnailEdge)
	if err != nil {
		return nil, &models.ClassificationError{Kind: models.ClassifyDecode, URL: url, Err: err}
	}
	return &ImageInfo{
		SizeBytes:     int64(len(body)),
		ContentType:   ct,
		Thumbnail:     thumb,
		ThumbnailType: thumbType,
	}, nil
}

// ClassifyVideo issues a HEAD request for url. A missing or zero
// content-length yields a nil size. Servers that reject HEAD (405, 501) are
// accepted with unknown size.
func (c *Classifier) ClassifyVideo(ctx context.Context, url string, headers models.HeaderSet) (*int64, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, "", &models.ClassificationError{Kind: models.ClassifyRequest, URL: url, Err: err}
	}
	headers.Apply(req)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, "", &models.ClassificationError{Kind: models.ClassifyRequest, URL: url, Err: err}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed, resp.StatusCode == http.StatusNotImplemented:
		return nil, "", nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, "", &models.ClassificationError{Kind: models.ClassifyStatus, URL: url, Status: resp.StatusCode}
	}

	ct := resp.Header.Get("Content-Type")
	if resp.ContentLength > 0 {
		size := resp.ContentLength
		return &size, ct, nil
	}
	return nil, ct, nil
}

// Classify turns a candidate into a record using the session's headers.
// Rejections are returned as *models.ClassificationError.
func (c *Classifier) Classify(ctx context.Context, sess *Session, cand Candidate) (models.MediaRecord, error) {
	rec := models.MediaRecord{Kind: cand.Kind, URL: cand.URL, PosterURL: cand.PosterURL}
	headers := sess.HeadersFor(cand.URL, cand.Kind)

	if cand.Kind == models.KindImage {
		info, err := c.ClassifyImage(ctx, cand.URL, headers)
		if err != nil {
			return rec, err
		}
		size := info.SizeBytes
		rec.SizeBytes = &size
		rec.ContentType = info.ContentType
		rec.Thumbnail = info.Thumbnail
		rec.ThumbnailType = info.ThumbnailType
		return rec, nil
	}

	size, ct, err := c.ClassifyVideo(ctx, cand.URL, headers)
	if err != nil {
		return rec, err
	}
	rec.SizeBytes = size
	rec.ContentType = ct

	if cand.PosterURL != "" {
		posterHeaders := sess.HeadersFor(cand.PosterURL, models.KindImage)
		info, err := c.ClassifyImage(ctx, cand.PosterURL, posterHeaders)
		if err == nil {
			rec.Thumbnail = info.Thumbnail
			rec.ThumbnailType = info.ThumbnailType
			return rec, nil
		}
		slog.Debug("poster unusable, using placeholder", "poster", cand.PosterURL, "error", err)
	}
	rec.Thumbnail, rec.ThumbnailType = PlaceholderThumbnail(c.ThumbnailEdge)
	return rec, nil
}

// IsRejection reports whether err is a per-candidate classification failure.
func IsRejection(err error) bool {
	var ce *models.ClassificationError
	return errors.As(err, &ce)
}

func (c *Classifier) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

func (c *Classifier) maxImageBytes() int64 {
	if c.MaxImageBytes <= 0 {
		return 20 << 20
	}
	return c.MaxImageBytes
}
