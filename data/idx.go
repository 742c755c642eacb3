package data

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/b0tShaman/backprop/ml"
	"github.com/pkg/errors"
)

const (
	// TypeUnsignedByte is the only IDX element type the reader decodes.
	TypeUnsignedByte = 0x08

	// MaxItemSize bounds the elements in one item.
	MaxItemSize = 1 << 26
)

// ErrFormat is returned for malformed IDX files.
var ErrFormat = errors.New("invalid idx file")

// IDXHeader is the big-endian header of an IDX file: two reserved zero
// bytes, the element type, the dimension count, then one uint32 per dimension.
type IDXHeader struct {
	Type uint8
	Dims []uint32
}

// Items returns the size of the first dimension.
func (h IDXHeader) Items() int {
	if len(h.Dims) == 0 {
		return 0
	}
	return int(h.Dims[0])
}

// ItemSize returns the number of elements in one item, the product of every
// dimension after the first. Products above MaxItemSize are rejected.
func (h IDXHeader) ItemSize() (int, error) {
	if len(h.Dims) == 0 {
		return 0, errors.Wrap(ErrFormat, "zero dimensions")
	}
	size := uint64(1)
	for i, d := range h.Dims[1:] {
		size *= uint64(d)
		if size > MaxItemSize {
			return 0, errors.Wrapf(ErrFormat, "item size exceeds %d elements at dimension %d", MaxItemSize, i+1)
		}
	}
	if size == 0 {
		return 0, errors.Wrap(ErrFormat, "empty items")
	}
	return int(size), nil
}

type IDXOption func(*idxOptions)

type idxOptions struct {
	pixelScale float64
	classes    int
	limit      int
}

// WithPixelScale multiplies every raw byte by scale (1/255.0 maps to [0,1]).
func WithPixelScale(scale float64) IDXOption {
	return func(o *idxOptions) {
		o.pixelScale = scale
	}
}

// WithClasses sets the one-hot target length.
func WithClasses(n int) IDXOption {
	return func(o *idxOptions) {
		o.classes = n
	}
}

// WithLimit caps the number of samples served.
func WithLimit(n int) IDXOption {
	return func(o *idxOptions) {
		o.limit = n
	}
}

// ReadIDXHeader decodes an IDX header from r.
func ReadIDXHeader(r io.Reader) (IDXHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return IDXHeader{}, errors.Wrap(err, "read idx magic")
	}
	if magic[0] != 0 || magic[1] != 0 {
		return IDXHeader{}, errors.Wrapf(ErrFormat, "reserved bytes %#x %#x", magic[0], magic[1])
	}
	h := IDXHeader{Type: magic[2], Dims: make([]uint32, magic[3])}
	if len(h.Dims) == 0 {
		return IDXHeader{}, errors.Wrap(ErrFormat, "zero dimensions")
	}
	if err := binary.Read(r, binary.BigEndian, h.Dims); err != nil {
		return IDXHeader{}, errors.Wrap(err, "read idx dimensions")
	}
	return h, nil
}

// IDXSource streams (image, one-hot label) samples from a pair of IDX files.
type IDXSource struct {
	images, labels *os.File
	imageR         *bufio.Reader
	labelR         *bufio.Reader
	itemSize       int
	remaining      int
	opts           idxOptions
	buf            []byte
}

// OpenIDX opens an image file and its companion label file. Both must hold
// unsigned bytes and agree on the item count.
func OpenIDX(imagePath, labelPath string, opts ...IDXOption) (*IDXSource, error) {
	o := idxOptions{pixelScale: 1.0, classes: 10}
	for _, opt := range opts {
		opt(&o)
	}
	if o.classes <= 0 {
		return nil, errors.Errorf("classes must be > 0 (got %d)", o.classes)
	}

	images, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Wrap(err, "open images")
	}
	labels, err := os.Open(labelPath)
	if err != nil {
		images.Close()
		return nil, errors.Wrap(err, "open labels")
	}

	src, err := newIDXSource(images, labels, o)
	if err != nil {
		images.Close()
		labels.Close()
		return nil, err
	}
	return src, nil
}

func newIDXSource(images, labels *os.File, o idxOptions) (*IDXSource, error) {
	imageR := bufio.NewReader(images)
	labelR := bufio.NewReader(labels)

	ih, err := ReadIDXHeader(imageR)
	if err != nil {
		return nil, errors.Wrap(err, "image header")
	}
	lh, err := ReadIDXHeader(labelR)
	if err != nil {
		return nil, errors.Wrap(err, "label header")
	}
	if ih.Type != TypeUnsignedByte || lh.Type != TypeUnsignedByte {
		return nil, errors.Wrapf(ErrFormat, "unsupported element types %#x/%#x", ih.Type, lh.Type)
	}
	itemSize, err := ih.ItemSize()
	if err != nil {
		return nil, errors.Wrap(err, "image header")
	}
	if len(lh.Dims) != 1 {
		return nil, errors.Wrapf(ErrFormat, "label file has %d dimensions", len(lh.Dims))
	}
	if ih.Items() != lh.Items() {
		return nil, errors.Wrapf(ErrFormat, "%d images but %d labels", ih.Items(), lh.Items())
	}

	remaining := ih.Items()
	if o.limit > 0 && o.limit < remaining {
		remaining = o.limit
	}
	return &IDXSource{
		images:    images,
		labels:    labels,
		imageR:    imageR,
		labelR:    labelR,
		itemSize:  itemSize,
		remaining: remaining,
		opts:      o,
		buf:       make([]byte, itemSize),
	}, nil
}

// InputDim returns the length of each input vector.
func (s *IDXSource) InputDim() int {
	return s.itemSize
}

func (s *IDXSource) Len() int {
	return s.remaining
}

func (s *IDXSource) Next() (ml.Sample, error) {
	if s.remaining <= 0 {
		return ml.Sample{}, io.EOF
	}
	// The item is consumed from here on, whether or not it decodes.
	s.remaining--
	if _, err := io.ReadFull(s.imageR, s.buf); err != nil {
		return ml.Sample{}, errors.Wrap(err, "read image")
	}
	label, err := s.labelR.ReadByte()
	if err != nil {
		return ml.Sample{}, errors.Wrap(err, "read label")
	}
	target, err := OneHot(int(label), s.opts.classes)
	if err != nil {
		return ml.Sample{}, errors.Wrapf(ErrFormat, "label %d: %v", label, err)
	}

	pixels := make([]float64, len(s.buf))
	for i, b := range s.buf {
		pixels[i] = float64(b) * s.opts.pixelScale
	}
	return ml.Sample{
		Input:  ml.VectorFrom(pixels),
		Target: target,
	}, nil
}

func (s *IDXSource) Close() error {
	errImages := s.images.Close()
	errLabels := s.labels.Close()
	if errImages != nil {
		return errImages
	}
	return errLabels
}
