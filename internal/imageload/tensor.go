package imageload

import (
	"image"
	"image/color"
)

// Normalization constants of the backbone the classifier was built against.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Tensor is a normalized CHW float image.
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(channels, height, width int) *Tensor {
	return &Tensor{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

// At returns the value at channel c, row y, column x.
func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[(c*t.Height+y)*t.Width+x]
}

// Set stores v at channel c, row y, column x.
func (t *Tensor) Set(c, y, x int, v float32) {
	t.Data[(c*t.Height+y)*t.Width+x] = v
}

// fromRegion converts a size x size window of img starting at (x0, y0)
// into a normalized RGB tensor. Alpha is dropped.
func fromRegion(img image.Image, x0, y0, width, height int) *Tensor {
	t := NewTensor(3, height, width)
	b := img.Bounds()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x0+x, b.Min.Y+y0+y)).(color.NRGBA)
			t.Set(0, y, x, (float32(c.R)/255-Mean[0])/Std[0])
			t.Set(1, y, x, (float32(c.G)/255-Mean[1])/Std[1])
			t.Set(2, y, x, (float32(c.B)/255-Mean[2])/Std[2])
		}
	}
	return t
}
