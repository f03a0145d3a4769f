package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotWAV is returned when a file does not carry a parseable RIFF/WAVE
// header, including headers cut off mid-chunk. Callers that accept opaque
// containers (mp3, mp4, …) should treat it as "duration unknown" rather than
// a hard failure.
var ErrNotWAV = errors.New("media: not a RIFF/WAVE file")

const (
	riffMagic = "RIFF"
	waveMagic = "WAVE"

	wavFormatPCM = 1
)

// ReadWAV decodes a 16-bit PCM WAV file into a [Clip].
func ReadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("media: open %q: %w", path, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV decodes a 16-bit PCM WAV stream.
func DecodeWAV(r io.Reader) (*Clip, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(r, int64(hdr.dataSize)))
	if err != nil {
		return nil, fmt.Errorf("media: read pcm data: %w", err)
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
	}

	return &Clip{
		SampleRate: hdr.sampleRate,
		Channels:   hdr.channels,
		Samples:    samples,
	}, nil
}

// WriteWAV writes a [Clip] as a 16-bit PCM WAV file. The file is created or
// truncated.
func WriteWAV(path string, clip *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("media: create %q: %w", path, err)
	}
	defer f.Close()

	if err := EncodeWAV(f, clip); err != nil {
		return fmt.Errorf("media: encode %q: %w", path, err)
	}
	return nil
}

// EncodeWAV writes a [Clip] as a 16-bit PCM WAV stream.
func EncodeWAV(w io.Writer, clip *Clip) error {
	if clip.SampleRate <= 0 || clip.Channels <= 0 {
		return fmt.Errorf("media: invalid clip format %d Hz / %d ch", clip.SampleRate, clip.Channels)
	}

	dataSize := uint32(len(clip.Samples) * 2)
	blockAlign := uint16(clip.Channels * 2)
	byteRate := uint32(clip.SampleRate) * uint32(blockAlign)

	var hdr [44]byte
	copy(hdr[0:4], riffMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], waveMagic)
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(clip.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(clip.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	buf := make([]byte, len(clip.Samples)*2)
	for i, s := range clip.Samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	_, err := w.Write(buf)
	return err
}

// Probe reads just enough of the file at path to determine its format and
// duration. For non-WAV containers it returns [ErrNotWAV]; the pipeline
// treats that as duration 0.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("media: open %q: %w", path, err)
	}
	defer f.Close()

	hdr, err := readHeader(f)
	if err != nil {
		return Info{}, err
	}

	frames := int(hdr.dataSize) / (hdr.channels * 2)
	return Info{
		SampleRate: hdr.sampleRate,
		Channels:   hdr.channels,
		Duration:   float64(frames) / float64(hdr.sampleRate),
	}, nil
}

type wavHeader struct {
	sampleRate int
	channels   int
	dataSize   uint32
}

// truncatedOr maps a short read inside the chunk walk to [ErrNotWAV] so a
// cut-off header lands on the same tolerance path as a foreign container;
// genuine I/O errors are reported as-is.
func truncatedOr(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("media: truncated %s: %w", what, ErrNotWAV)
	}
	return fmt.Errorf("media: read %s: %w", what, err)
}

// readHeader parses the RIFF container up to the start of the data chunk.
// Unknown chunks (LIST, fact, …) are skipped.
func readHeader(r io.Reader) (wavHeader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavHeader{}, ErrNotWAV
	}
	if string(riff[0:4]) != riffMagic || string(riff[8:12]) != waveMagic {
		return wavHeader{}, ErrNotWAV
	}

	var hdr wavHeader
	sawFmt := false

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return wavHeader{}, truncatedOr(err, "chunk header")
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return wavHeader{}, fmt.Errorf("media: fmt chunk too small (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return wavHeader{}, truncatedOr(err, "fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != wavFormatPCM || bits != 16 {
				return wavHeader{}, fmt.Errorf("media: unsupported wav encoding (format %d, %d bits)", format, bits)
			}
			hdr.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			hdr.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			if hdr.channels <= 0 || hdr.sampleRate <= 0 {
				return wavHeader{}, fmt.Errorf("media: invalid wav format %d Hz / %d ch", hdr.sampleRate, hdr.channels)
			}
			sawFmt = true

		case "data":
			if !sawFmt {
				return wavHeader{}, errors.New("media: data chunk before fmt chunk")
			}
			hdr.dataSize = size
			return hdr, nil

		default:
			// Skip unknown chunk; chunks are word-aligned.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return wavHeader{}, truncatedOr(err, id+" chunk")
			}
		}
	}
}
