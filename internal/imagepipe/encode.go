package imagepipe

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/rotisserie/eris"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	jpegQuality = 90

	// maxPixelFactor bounds the decoded pixel count at maxDim² times this.
	maxPixelFactor = 8
	defaultMaxDim  = 2048
)

// checkImage reads only the header of data and rejects anything that is not
// a decodable image or whose declared size exceeds maxDim² * maxPixelFactor
// pixels.
func checkImage(data []byte, maxDim int) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return eris.Wrap(err, "decode image header")
	}
	if maxDim <= 0 {
		maxDim = defaultMaxDim
	}
	limit := int64(maxDim) * int64(maxDim) * maxPixelFactor
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > limit {
		return eris.Errorf("image dimensions %dx%d exceed pixel budget", cfg.Width, cfg.Height)
	}
	return nil
}

// normalize decodes data, bounds its longest edge to maxDim and re-encodes
// it as PNG when any pixel is transparent, JPEG otherwise. budgetDim sets the
// pixel budget checked before decoding.
func normalize(data []byte, maxDim, budgetDim int) ([]byte, string, error) {
	if err := checkImage(data, budgetDim); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", eris.Wrap(err, "decode image")
	}

	resized := false
	if maxDim > 0 {
		if scaled := fit(img, maxDim); scaled != nil {
			img = scaled
			resized = true
		}
	}

	if hasAlpha(img) {
		if format == "png" && !resized {
			return data, "image/png", nil
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", eris.Wrap(err, "encode png")
		}
		return buf.Bytes(), "image/png", nil
	}

	if format == "jpeg" && !resized {
		return data, "image/jpeg", nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", eris.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), "image/jpeg", nil
}

// hasAlpha reports whether any pixel of img is not fully opaque.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// fit returns img scaled down so its longest edge is maxDim, or nil when it
// already fits.
func fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return nil
	}
	nw, nh := maxDim, h*maxDim/w
	if h > w {
		nw, nh = w*maxDim/h, maxDim
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// flatten composites img over white so JPEG encoding has no alpha to drop.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
