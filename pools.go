package memdb

import "sync"

// lineBufPool holds scratch buffers for encoding one transaction record.
var lineBufPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func getLineBuf() []byte {
	return lineBufPool.Get().([]byte)[:0]
}

func releaseLineBuf(b []byte) {
	if cap(b) > 1<<20 {
		return // don't let one huge transaction pin memory
	}
	lineBufPool.Put(b[:0])
}
