package nn

import (
	"image"

	"github.com/anthonynsimon/bild/clone"
	"github.com/nfnt/resize"
)

// PrepareImage resizes img to the network resolution with nearest-neighbour sampling,
// and returns both the resized 8-bit image and the normalized [0,1] input tensor.
// The resized image is what a saliency overlay gets drawn on top of, so the two
// always share dimensions.
func PrepareImage(img image.Image, width, height int) (*image.RGBA, *Tensor) {
	var rgb *image.RGBA
	if b := img.Bounds(); b.Dx() == width && b.Dy() == height {
		rgb = clone.AsRGBA(img)
	} else {
		rgb = clone.AsRGBA(resize.Resize(uint(width), uint(height), img, resize.NearestNeighbor))
	}

	t := NewTensor(width, height, 3)
	for y := 0; y < height; y++ {
		src := rgb.Pix[y*rgb.Stride : y*rgb.Stride+width*4]
		for x := 0; x < width; x++ {
			// X-rays have no meaningful alpha
			src[x*4+3] = 255
			for c := 0; c < 3; c++ {
				t.Data[(y*width+x)*3+c] = float32(src[x*4+c]) / 255
			}
		}
	}
	return rgb, t
}
