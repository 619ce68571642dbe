// Package domain holds the entities and their invariants, without I/O.
package domain

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strings"
)

// Channels is the number of samples per pixel for every Frame.
const Channels = 3

var (
	ErrInvalidFrame      = errors.New("invalid frame")
	ErrUnknownColorOrder = errors.New("unknown color order")
)

// ColorOrder tags the channel layout of a Frame's samples.
type ColorOrder uint8

const (
	OrderUnknown ColorOrder = iota
	OrderRGB
	OrderBGR
)

func (o ColorOrder) String() string {
	switch o {
	case OrderRGB:
		return "rgb"
	case OrderBGR:
		return "bgr"
	default:
		return "unknown"
	}
}

// PixFmt is the matching ffmpeg pixel format name.
func (o ColorOrder) PixFmt() string {
	return o.String() + "24"
}

func ParseColorOrder(s string) (ColorOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rgb", "rgb24":
		return OrderRGB, nil
	case "bgr", "bgr24":
		return OrderBGR, nil
	}
	return OrderUnknown, fmt.Errorf("%w: %q", ErrUnknownColorOrder, s)
}

// Frame is an immutable packed 8-bit, three channel image.
// Pix must be treated as read-only by every holder of the frame.
type Frame struct {
	width  int
	height int
	order  ColorOrder
	pix    []byte
}

// NewFrame takes ownership of pix; the caller must not modify it afterwards.
func NewFrame(width, height int, order ColorOrder, pix []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, width, height)
	}
	if order != OrderRGB && order != OrderBGR {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, ErrUnknownColorOrder)
	}
	if want := width * height * Channels; len(pix) != want {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d, want %d", ErrInvalidFrame, len(pix), width, height, want)
	}
	return &Frame{width: width, height: height, order: order, pix: pix}, nil
}

func (f *Frame) Width() int        { return f.width }
func (f *Frame) Height() int       { return f.height }
func (f *Frame) Order() ColorOrder { return f.order }
func (f *Frame) Pix() []byte       { return f.pix }

// Size returns the byte length of one frame with the given dimensions.
func Size(width, height int) int { return width * height * Channels }

// SameShape reports whether both frames have identical dimensions.
func (f *Frame) SameShape(o *Frame) bool {
	return o != nil && f.width == o.width && f.height == o.height
}

// Convert returns the frame in the requested order. The receiver is returned
// unchanged when it is already in that order; otherwise the first and third
// channel of every pixel are swapped into a new buffer.
func (f *Frame) Convert(to ColorOrder) (*Frame, error) {
	if to != OrderRGB && to != OrderBGR {
		return nil, fmt.Errorf("convert to %s: %w", to, ErrUnknownColorOrder)
	}
	if f.order == to {
		return f, nil
	}
	out := make([]byte, len(f.pix))
	for i := 0; i+2 < len(f.pix); i += Channels {
		out[i] = f.pix[i+2]
		out[i+1] = f.pix[i+1]
		out[i+2] = f.pix[i]
	}
	return &Frame{width: f.width, height: f.height, order: to, pix: out}, nil
}

// Mirror returns a horizontally flipped copy.
func (f *Frame) Mirror() *Frame {
	out := make([]byte, len(f.pix))
	stride := f.width * Channels
	for y := 0; y < f.height; y++ {
		row := y * stride
		for x := 0; x < f.width; x++ {
			src := row + x*Channels
			dst := row + (f.width-1-x)*Channels
			copy(out[dst:dst+Channels], f.pix[src:src+Channels])
		}
	}
	return &Frame{width: f.width, height: f.height, order: f.order, pix: out}
}

// Image renders the frame as RGBA, honouring its channel order.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	r, b := 0, 2
	if f.order == OrderBGR {
		r, b = 2, 0
	}
	for i, j := 0, 0; i+2 < len(f.pix); i, j = i+Channels, j+4 {
		img.Pix[j] = f.pix[i+r]
		img.Pix[j+1] = f.pix[i+1]
		img.Pix[j+2] = f.pix[i+b]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FrameFromImage packs img into a frame with the requested order. Alpha is dropped.
func FrameFromImage(img image.Image, order ColorOrder) (*Frame, error) {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	r, b := 0, 2
	if order == OrderBGR {
		r, b = 2, 0
	}
	pix := make([]byte, Size(w, h))
	for y := 0; y < h; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		dst := pix[y*w*Channels : (y+1)*w*Channels]
		for x := 0; x < w; x++ {
			dst[x*Channels+r] = src[x*4]
			dst[x*Channels+1] = src[x*4+1]
			dst[x*Channels+b] = src[x*4+2]
		}
	}
	return NewFrame(w, h, order, pix)
}
