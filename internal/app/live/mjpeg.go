package live

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

const (
	Boundary    = "frame"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
	PartType    = "image/jpeg"
)

// EncodeJPEG compresses f. The frame is converted to RGB first.
func EncodeJPEG(f *domain.Frame, quality int) ([]byte, error) {
	rgb, err := f.Convert(domain.OrderRGB)
	if err != nil {
		return nil, err
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgb.Image(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Chunk frames one image as a multipart part: boundary line, content type,
// blank line, payload and a trailing CRLF.
func Chunk(payload []byte) []byte {
	head := "--" + Boundary + "\r\nContent-Type: " + PartType + "\r\n\r\n"
	out := make([]byte, 0, len(head)+len(payload)+2)
	out = append(out, head...)
	out = append(out, payload...)
	return append(out, '\r', '\n')
}
