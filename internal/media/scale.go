package media

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Cover scales src to fill a w x h canvas, cropping the overflow centered.
func Cover(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return dst
	}

	// crop the source to the target aspect ratio, then scale
	srcW, srcH := sb.Dx(), sb.Dy()
	crop := sb
	if srcW*h > srcH*w {
		cw := srcH * w / h
		x0 := sb.Min.X + (srcW-cw)/2
		crop = image.Rect(x0, sb.Min.Y, x0+cw, sb.Max.Y)
	} else {
		ch := srcW * h / w
		y0 := sb.Min.Y + (srcH-ch)/2
		crop = image.Rect(sb.Min.X, y0, sb.Max.X, y0+ch)
	}

	if crop.Dx() == w && crop.Dy() == h {
		draw.Draw(dst, dst.Bounds(), src, crop.Min, draw.Src)
		return dst
	}
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, crop, xdraw.Src, nil)
	return dst
}

// Contain scales src to fit inside w x h preserving aspect ratio. The
// result has the fitted size, not the canvas size.
func Contain(src image.Image, w, h int) *image.RGBA {
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	fw, fh := w, sb.Dy()*w/sb.Dx()
	if fh > h {
		fw, fh = sb.Dx()*h/sb.Dy(), h
	}
	if fw < 1 {
		fw = 1
	}
	if fh < 1 {
		fh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, fw, fh))
	if fw == sb.Dx() && fh == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
		return dst
	}
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, sb, xdraw.Src, nil)
	return dst
}
