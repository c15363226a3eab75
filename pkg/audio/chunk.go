package audio

import "sync"

// Chunk is one block of synthesized audio on its way to an output device.
type Chunk struct {
	data     []byte
	rate     int
	channels int
	pooled   bool
}

func NewChunk(data []byte, rate, channels int) Chunk {
	return Chunk{data: data, rate: rate, channels: channels}
}

// NewChunkFromPool copies data into a pooled buffer; callers release the
// chunk with ReleaseChunk once the sink is done with it.
func NewChunkFromPool(data []byte, rate, channels int) Chunk {
	buf := acquireBuf(len(data))
	copy(buf, data)
	return Chunk{data: buf, rate: rate, channels: channels, pooled: true}
}

func (c Chunk) Data() []byte     { return append([]byte(nil), c.data...) }
func (c Chunk) RawPayload() []byte { return c.data }
func (c Chunk) Rate() int        { return c.rate }
func (c Chunk) Channels() int    { return c.channels }

func ReleaseChunk(c Chunk) bool {
	if c.pooled {
		releaseBuf(c.data)
		return true
	}
	return false
}

// Sink receives synthesized audio chunks for playback.
type Sink interface {
	Write(Chunk) error
}

// Discard drops every chunk; useful in tests and headless runs.
type Discard struct{}

func (Discard) Write(c Chunk) error {
	ReleaseChunk(c)
	return nil
}

var bufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func acquireBuf(size int) []byte {
	b := bufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func releaseBuf(b []byte) {
	bufPool.Put(b[:0])
}
