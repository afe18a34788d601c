package wav

import (
	"fmt"
	"io"
	"os"
	"time"

	gowav "github.com/cwbudde/wav"
)

// Info summarizes a WAV file on disk.
type Info struct {
	Header   Header
	RIFFSize uint32
	FileSize int64
	Duration time.Duration

	// Consistent reports whether the header size fields match the file size.
	Consistent bool
}

// Inspect validates path with an independent decoder and reports its header.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}

	dec := gowav.NewDecoder(f)
	dec.ReadInfo()
	if dec.Err() != nil {
		return Info{}, fmt.Errorf("not a readable WAV file: %w", dec.Err())
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 || dec.BitDepth == 0 {
		return Info{}, fmt.Errorf("WAV header has zero sample rate, channels, or bit depth")
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Info{}, err
	}
	h, riff, err := ReadHeader(f)
	if err != nil {
		return Info{}, err
	}
	if int(dec.SampleRate) != h.SampleRate || int(dec.NumChans) != h.Channels || int(dec.BitDepth) != h.Encoding.BitsPerSample() {
		return Info{}, fmt.Errorf("decoder disagrees with header: %d Hz %d ch %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	info := Info{
		Header:     h,
		RIFFSize:   riff,
		FileSize:   st.Size(),
		Consistent: int64(h.DataSize)+HeaderSize == st.Size() && riff == h.RIFFSize(),
	}
	if rate := h.ByteRate(); rate > 0 {
		info.Duration = time.Duration(float64(h.DataSize) / float64(rate) * float64(time.Second))
	}
	return info, nil
}
