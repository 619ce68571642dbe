package core

import "errors"

var (
	ErrDeviceUnavailable      = errors.New("capture device unavailable")
	ErrFileUnreadable         = errors.New("file unreadable")
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrReadFailure            = errors.New("frame read failed")
	ErrEndOfStream            = errors.New("end of stream")
	ErrWriteFailure           = errors.New("output write failed")
	ErrSubscriberDisconnected = errors.New("subscriber disconnected")
	ErrSourceExhausted        = errors.New("source exhausted")
	ErrAnalysisFailure        = errors.New("analysis failed")
	ErrSourceClosed           = errors.New("source closed")
	ErrCanceled               = errors.New("canceled")
)
