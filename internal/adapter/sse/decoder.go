// Package sse decodes the Server-Sent-Events stream produced by the agent
// service into frames and classifies each frame payload into a stream event.
package sse

import (
	"bytes"
)

const (
	// FramePrefix marks a data line. Lines without it are dropped.
	FramePrefix = "data: "
	// DoneSentinel is the payload that ends the stream.
	DoneSentinel = "[DONE]"
)

// Frame is one data line with the prefix stripped.
type Frame struct {
	Payload string
	Done    bool
}

// Decoder splits an arbitrarily chunked byte stream into frames. It keeps
// the unterminated tail of the previous chunk so frames split across reads
// (including split UTF-8 sequences) are reassembled. Not safe for
// concurrent use.
type Decoder struct {
	residual []byte
	done     bool
}

// NewDecoder creates a Decoder with an empty residual buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the residual buffer and returns every complete
// frame in arrival order. Once the sentinel frame is returned the decoder
// is finished and ignores all further input.
func (d *Decoder) Feed(chunk []byte) []Frame {
	if d.done {
		return nil
	}
	d.residual = append(d.residual, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(d.residual, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(d.residual[:i], []byte{'\r'})
		d.residual = d.residual[i+1:]

		payload, ok := bytes.CutPrefix(line, []byte(FramePrefix))
		if !ok {
			continue
		}
		if string(payload) == DoneSentinel {
			frames = append(frames, Frame{Done: true})
			d.done = true
			d.residual = nil
			return frames
		}
		frames = append(frames, Frame{Payload: string(payload)})
	}

	// Compact so the backing array does not grow with the whole stream.
	if len(d.residual) == 0 {
		d.residual = d.residual[:0:0]
	} else {
		d.residual = append([]byte(nil), d.residual...)
	}
	return frames
}

// Done reports whether the sentinel has been observed.
func (d *Decoder) Done() bool { return d.done }

// Pending returns the number of buffered bytes that do not yet form a line.
func (d *Decoder) Pending() int { return len(d.residual) }
