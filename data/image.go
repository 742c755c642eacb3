package data

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/b0tShaman/backprop/ml"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// ImageVector decodes an image of any size, rescales it onto a targetW x
// targetH grayscale canvas and returns the pixels row by row, in [0,1].
func ImageVector(in io.Reader, targetW, targetH int) (ml.Vector, error) {
	if targetW <= 0 || targetH <= 0 {
		return ml.Vector{}, errors.Errorf("target size must be positive (got %dx%d)", targetW, targetH)
	}
	src, _, err := image.Decode(in)
	if err != nil {
		return ml.Vector{}, errors.Wrap(err, "decode image")
	}

	// The Gray color model does the luma conversion while scaling.
	gray := image.NewGray(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(gray, gray.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := make([]float64, 0, targetW*targetH)
	for y := 0; y < targetH; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+targetW]
		for _, p := range row {
			out = append(out, float64(p)/255.0)
		}
	}
	return ml.VectorFrom(out), nil
}

// ImageSample decodes in as the input of a sample whose target is the
// one-hot encoding of label.
func ImageSample(in io.Reader, targetW, targetH, label, classes int) (ml.Sample, error) {
	target, err := OneHot(label, classes)
	if err != nil {
		return ml.Sample{}, err
	}
	input, err := ImageVector(in, targetW, targetH)
	if err != nil {
		return ml.Sample{}, err
	}
	return ml.Sample{Input: input, Target: target}, nil
}

// LabeledImage names an image file and its class.
type LabeledImage struct {
	Path  string
	Label int
}

// ImageSource decodes image files lazily, one per Next call.
type ImageSource struct {
	files         []LabeledImage
	width, height int
	classes       int
	pos           int
}

func NewImageSource(files []LabeledImage, width, height, classes int) (*ImageSource, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("target size must be positive (got %dx%d)", width, height)
	}
	if classes <= 0 {
		return nil, errors.Errorf("classes must be > 0 (got %d)", classes)
	}
	return &ImageSource{files: files, width: width, height: height, classes: classes}, nil
}

// InputDim returns the length of each input vector.
func (s *ImageSource) InputDim() int {
	return s.width * s.height
}

func (s *ImageSource) Len() int {
	return len(s.files) - s.pos
}

func (s *ImageSource) Next() (ml.Sample, error) {
	if s.pos >= len(s.files) {
		return ml.Sample{}, io.EOF
	}
	file := s.files[s.pos]
	s.pos++

	f, err := os.Open(file.Path)
	if err != nil {
		return ml.Sample{}, errors.Wrap(err, "open image")
	}
	defer f.Close()

	sample, err := ImageSample(f, s.width, s.height, file.Label, s.classes)
	if err != nil {
		return ml.Sample{}, errors.Wrapf(err, "image %s", file.Path)
	}
	return sample, nil
}
