package classifier

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// ChannelOrder is the colour channel layout of each tensor pixel.
type ChannelOrder string

const (
	// OrderBGR matches images read with OpenCV, which is how the
	// deployed Keras model was served.
	OrderBGR ChannelOrder = "bgr"
	OrderRGB ChannelOrder = "rgb"
)

func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch ChannelOrder(s) {
	case OrderBGR, OrderRGB:
		return ChannelOrder(s), nil
	}
	return "", fmt.Errorf("unknown channel order %q (want %q or %q)", s, OrderBGR, OrderRGB)
}

// Preprocessor resizes decoded images and lays them out as the NHWC
// float tensor the model expects.
type Preprocessor struct {
	width, height int
	numWorkers    int
	// source pixel offset for each tensor channel
	offsets [InputChannels]int
}

// NewPreprocessor returns a preprocessor for order; an empty order means BGR.
func NewPreprocessor(order ChannelOrder) *Preprocessor {
	p := &Preprocessor{
		width:      InputWidth,
		height:     InputHeight,
		numWorkers: runtime.GOMAXPROCS(0),
		offsets:    [InputChannels]int{2, 1, 0},
	}
	if order == OrderRGB {
		p.offsets = [InputChannels]int{0, 1, 2}
	}
	return p
}

// Order reports the channel layout the preprocessor produces.
func (p *Preprocessor) Order() ChannelOrder {
	if p.offsets[0] == 0 {
		return OrderRGB
	}
	return OrderBGR
}

// TensorSize is the number of float32 values in one model input.
func TensorSize() int {
	return InputWidth * InputHeight * InputChannels
}

// Process returns a fresh [1,224,224,3] buffer with channels scaled to [0,1].
func (p *Preprocessor) Process(img image.Image) []float32 {
	resized := imaging.Resize(img, p.width, p.height, imaging.Linear)
	buffer := make([]float32, p.width*p.height*InputChannels)
	p.processParallel(resized, buffer)
	return buffer
}

func (p *Preprocessor) processParallel(img *image.NRGBA, buffer []float32) {
	workers := p.numWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > p.height {
		workers = p.height
	}
	rowsPerWorker := p.height / workers
	c0, c1, c2 := p.offsets[0], p.offsets[1], p.offsets[2]

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride:]
				dst := buffer[y*p.width*InputChannels:]
				for x := 0; x < p.width; x++ {
					// alpha is dropped
					px := src[x*4 : x*4+4]
					dst[x*3] = float32(px[c0]) / 255.0
					dst[x*3+1] = float32(px[c1]) / 255.0
					dst[x*3+2] = float32(px[c2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
