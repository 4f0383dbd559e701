package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultThumbnailEdge is the long-edge cap for generated thumbnails.
const DefaultThumbnailEdge = 200

// MakeThumbnail decodes an image (jpeg, png, gif or webp) and scales it so
// its long edge is at most maxEdge, preserving aspect ratio. Images with an
// alpha channel are encoded as PNG, all others as JPEG.
func MakeThumbnail(data []byte, maxEdge int) ([]byte, string, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultThumbnailEdge
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	sb := src.Bounds()
	w, h := fitWithin(sb.Dx(), sb.Dy(), maxEdge)
	if w == 0 || h == 0 {
		return nil, "", fmt.Errorf("decode image: empty %s image", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)

	var buf bytes.Buffer
	if hasAlpha(src) {
		if err := png.Encode(&buf, dst); err != nil {
			return nil, "", fmt.Errorf("encode thumbnail: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// PlaceholderThumbnail draws a 16:9 frame with a play triangle, used for
// videos without a usable poster.
func PlaceholderThumbnail(maxEdge int) ([]byte, string) {
	if maxEdge <= 0 {
		maxEdge = DefaultThumbnailEdge
	}
	w, h := maxEdge, maxEdge*9/16
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	fg := color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	// Right-pointing triangle centred in the frame.
	size := h / 3
	cx, cy := w/2, h/2
	left := cx - size/2
	for x := 0; x < size; x++ {
		half := (size - x) / 2
		for y := cy - half; y <= cy+half; y++ {
			img.Set(left+x, y, fg)
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes(), "image/png"
}

func fitWithin(w, h, maxEdge int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		nh := h * maxEdge / w
		if nh < 1 {
			nh = 1
		}
		return maxEdge, nh
	}
	nw := w * maxEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxEdge
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
