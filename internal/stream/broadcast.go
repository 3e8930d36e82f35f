package stream

import (
	"github.com/hybridgroup/mjpeg"
)

// NewBroadcast returns a multipart MJPEG stream. It satisfies Broadcaster and
// is mounted directly as the /stream/live handler; every connected viewer
// receives the frames pushed through UpdateJPEG.
func NewBroadcast() *mjpeg.Stream {
	return mjpeg.NewStream()
}
