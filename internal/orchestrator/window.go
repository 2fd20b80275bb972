package orchestrator

import "github.com/MrWong99/meetagent/pkg/audio"

// window keeps the most recent maxFrames of consumed capture audio.
type window struct {
	maxFrames int
	chunks    []audio.Buffer
	frames    int
}

func newWindow(maxFrames int) *window { return &window{maxFrames: maxFrames} }

func (w *window) push(b audio.Buffer) {
	w.chunks = append(w.chunks, b)
	w.frames += b.Frames()
	for len(w.chunks) > 1 && w.frames-w.chunks[0].Frames() >= w.maxFrames {
		w.frames -= w.chunks[0].Frames()
		w.chunks[0] = audio.Buffer{}
		w.chunks = w.chunks[1:]
	}
}

// snapshot returns the buffered audio trimmed to the last maxFrames.
func (w *window) snapshot() (audio.Buffer, bool) {
	if len(w.chunks) == 0 {
		return audio.Buffer{}, false
	}
	buf, err := audio.Concat(w.chunks...)
	if err != nil {
		return audio.Buffer{}, false
	}
	if n := buf.Frames(); n > w.maxFrames {
		buf = buf.Slice(n-w.maxFrames, n)
	}
	return buf, true
}

func (w *window) reset() {
	w.chunks = nil
	w.frames = 0
}
