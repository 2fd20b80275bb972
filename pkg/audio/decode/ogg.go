package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/meetagent/pkg/audio"
)

// Opus always decodes at 48 kHz; 120 ms is the longest legal packet.
const (
	opusRate         = 48000
	opusMaxFrameSize = opusRate * 120 / 1000
	oggHeaderLen     = 27
)

var (
	oggCapture = []byte("OggS")
	opusHead   = []byte("OpusHead")
	opusTags   = []byte("OpusTags")
)

// oggPackets splits an Ogg bitstream into its logical packets. Only the
// first logical stream is returned; pages of other serial numbers are skipped.
func oggPackets(data []byte) ([][]byte, error) {
	var (
		packets [][]byte
		partial []byte
		serial  uint32
		first   = true
	)
	for len(data) > 0 {
		if len(data) < oggHeaderLen || !bytes.Equal(data[:4], oggCapture) {
			return nil, errors.New("decode: ogg: missing capture pattern")
		}
		pageSerial := binary.LittleEndian.Uint32(data[14:18])
		nsegs := int(data[26])
		if len(data) < oggHeaderLen+nsegs {
			return nil, errors.New("decode: ogg: truncated segment table")
		}
		lacing := data[oggHeaderLen : oggHeaderLen+nsegs]
		body := data[oggHeaderLen+nsegs:]

		size := 0
		for _, l := range lacing {
			size += int(l)
		}
		if len(body) < size {
			return nil, errors.New("decode: ogg: truncated page")
		}
		data = body[size:]

		if first {
			serial, first = pageSerial, false
		}
		if pageSerial != serial {
			continue
		}

		off := 0
		for _, l := range lacing {
			partial = append(partial, body[off:off+int(l)]...)
			off += int(l)
			if l < 255 {
				packets = append(packets, partial)
				partial = nil
			}
		}
	}
	return packets, nil
}

// decodeOggOpus decodes an Ogg/Opus file into a 48 kHz buffer with the
// channel count from the OpusHead header. Pre-skip samples are dropped.
func decodeOggOpus(data []byte) (audio.Buffer, error) {
	packets, err := oggPackets(data)
	if err != nil {
		return audio.Buffer{}, err
	}
	if len(packets) == 0 || !bytes.HasPrefix(packets[0], opusHead) || len(packets[0]) < 19 {
		return audio.Buffer{}, errors.New("decode: opus: missing OpusHead")
	}
	head := packets[0]
	channels := int(head[9])
	if channels < 1 || channels > 2 {
		return audio.Buffer{}, fmt.Errorf("decode: opus: unsupported channel count %d", channels)
	}
	preSkip := int(binary.LittleEndian.Uint16(head[10:12]))

	dec, err := gopus.NewDecoder(opusRate, channels)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("decode: opus: create decoder: %w", err)
	}

	var pcm []int16
	for _, pkt := range packets[1:] {
		if bytes.HasPrefix(pkt, opusTags) || len(pkt) == 0 {
			continue
		}
		out, err := dec.Decode(pkt, opusMaxFrameSize, false)
		if err != nil {
			return audio.Buffer{}, fmt.Errorf("decode: opus: %w", err)
		}
		pcm = append(pcm, out...)
	}
	if skip := preSkip * channels; skip < len(pcm) {
		pcm = pcm[skip:]
	} else {
		pcm = nil
	}
	return audio.Buffer{Samples: audio.ToFloat32(pcm), SampleRate: opusRate, Channels: channels}, nil
}
