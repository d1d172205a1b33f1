package image

import (
	"bytes"
	"fmt"
	stdimage "image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

func decodeConfig(data []byte) (stdimage.Config, string, error) {
	cfg, name, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return stdimage.Config{}, "", fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return cfg, name, nil
}

func decode(data []byte) (stdimage.Image, error) {
	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return img, nil
}

func encode(w io.Writer, img stdimage.Image, format string, quality int) error {
	var err error
	switch format {
	case "jpg":
		err = jpeg.Encode(w, flatten(img), &jpeg.Options{Quality: quality})
	case "png":
		err = png.Encode(w, img)
	case "gif":
		err = gif.Encode(w, img, nil)
	case "bmp":
		err = bmp.Encode(w, img)
	case "tiff":
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: encode %s", errUnsupported, format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

// flatten composites img over white; JPEG has no alpha channel.
func flatten(img stdimage.Image) stdimage.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := stdimage.NewRGBA(b)
	draw.Draw(dst, b, stdimage.NewUniform(color.White), stdimage.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

// transcodeGIF keeps every frame and the loop count.
func transcodeGIF(data []byte) ([]byte, error) {
	anim, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}
	return buf.Bytes(), nil
}
