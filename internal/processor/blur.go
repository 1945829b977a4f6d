package processor

import "image"

// Radius of the blur kernel.
const Radius = 2

// Kernel is the normalized 5-tap Gaussian (sigma 1) applied along each axis.
var Kernel = [2*Radius + 1]float32{0.06136, 0.24477, 0.38774, 0.24477, 0.06136}

// kernelFixed is Kernel in 16.16 fixed point. The center tap absorbs the
// rounding remainder so the weights sum to exactly 1<<16, which keeps a
// uniform image unchanged under truncation and can never exceed 255.
var kernelFixed = func() [2*Radius + 1]uint32 {
	var k [2*Radius + 1]uint32
	var sum uint32
	for i, w := range Kernel {
		k[i] = uint32(w * (1 << 16))
		sum += k[i]
	}
	k[Radius] += 1<<16 - sum
	return k
}()

// Blur applies the separable kernel as two full passes: horizontal first, then
// vertical over the horizontal result. Taps outside the image are clamped to
// the nearest edge pixel. The input is not modified.
func Blur(src *image.RGBA) *image.RGBA {
	tmp := image.NewRGBA(src.Rect)
	blurPass(tmp, src, false)
	out := image.NewRGBA(src.Rect)
	blurPass(out, tmp, true)
	return out
}

func blurPass(dst, src *image.RGBA, vertical bool) {
	b := src.Rect
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [4]uint32
			for k, weight := range kernelFixed {
				px, py := x, y
				if vertical {
					py = clamp(y+k-Radius, 0, h-1)
				} else {
					px = clamp(x+k-Radius, 0, w-1)
				}
				i := src.PixOffset(b.Min.X+px, b.Min.Y+py)
				for c := 0; c < 4; c++ {
					acc[c] += uint32(src.Pix[i+c]) * weight
				}
			}
			o := dst.PixOffset(b.Min.X+x, b.Min.Y+y)
			for c := 0; c < 4; c++ {
				dst.Pix[o+c] = uint8(acc[c] >> 16)
			}
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
