package audio

import (
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavTrack writes mono float32 samples to a 16-bit PCM WAV file.
type wavTrack struct {
	path    string
	file    *os.File
	enc     *wav.Encoder
	buf     *goaudio.IntBuffer
	samples int64
	rate    int
}

func createTrack(path string, sampleRate int) (*wavTrack, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &wavTrack{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, BitDepth, 1, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: BitDepth,
		},
		rate: sampleRate,
	}, nil
}

func (t *wavTrack) write(samples []float32) error {
	if cap(t.buf.Data) < len(samples) {
		t.buf.Data = make([]int, len(samples))
	}
	t.buf.Data = t.buf.Data[:len(samples)]
	for i, s := range samples {
		t.buf.Data[i] = floatToPCM16(s)
	}
	if err := t.enc.Write(t.buf); err != nil {
		return err
	}
	t.samples += int64(len(samples))
	return nil
}

// close finalizes the header and returns the file size.
func (t *wavTrack) close() (int64, error) {
	encErr := t.enc.Close()
	info, statErr := t.file.Stat()
	closeErr := t.file.Close()
	if encErr != nil {
		return 0, encErr
	}
	if closeErr != nil {
		return 0, closeErr
	}
	if statErr != nil {
		return 0, statErr
	}
	return info.Size(), nil
}

func floatToPCM16(s float32) int {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	return int(s * 32767)
}
