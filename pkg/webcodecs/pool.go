package webcodecs

import "sync"

// sampleBufferPool recycles the interleaved copies Encode takes of each
// AudioData, so steady-state encoding does not allocate per frame.
var sampleBufferPool = sync.Pool{
	New: func() any {
		buf := make([]float32, 0, 4800*2)
		return &buf
	},
}

// getSampleBuffer returns an empty buffer from the pool.
func getSampleBuffer() *[]float32 {
	buf := sampleBufferPool.Get().(*[]float32)
	*buf = (*buf)[:0]
	return buf
}

// putSampleBuffer returns buf to the pool.
func putSampleBuffer(buf *[]float32) {
	if buf == nil {
		return
	}
	*buf = (*buf)[:0]
	sampleBufferPool.Put(buf)
}
