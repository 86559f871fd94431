package scan

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ihavespoons/mci/internal/chunk"
)

// SampleSize is the number of leading bytes inspected by IsText
const SampleSize = 8192

// maxControlRatio is the share of control bytes above which a sample is binary
const maxControlRatio = 0.30

var binaryExtensions = map[string]bool{
	// images
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".ico": true, ".bmp": true, ".tiff": true,
	// archives
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".7z": true, ".rar": true, ".zst": true,
	// media
	".mp3": true, ".mp4": true, ".mkv": true, ".mov": true, ".avi": true,
	".wav": true, ".flac": true,
	// build artifacts
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".o": true, ".obj": true, ".class": true, ".jar": true, ".pyc": true,
	".pyo": true, ".whl": true, ".pdf": true,
}

// IsText reports whether path looks like a text file readable with the given
// encoding. Read failures count as binary.
func IsText(path, encoding string) bool {
	if binaryExtensions[strings.ToLower(filepath.Ext(path))] {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, SampleSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false
	}
	return IsTextSample(buf[:n], encoding, n == SampleSize)
}

// IsTextSample classifies a leading sample of a file. truncated reports
// whether more content follows the sample.
func IsTextSample(sample []byte, encoding string, truncated bool) bool {
	if len(sample) == 0 {
		return true
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}

	probe := sample
	if truncated {
		probe = trimPartialRune(probe)
	}
	if encoding == "" || strings.EqualFold(encoding, chunk.EncodingUTF8) {
		if !utf8.Valid(probe) {
			return false
		}
	} else if _, _, err := chunk.Decode(probe, encoding); err != nil {
		return false
	}

	ctrl := 0
	for _, b := range sample {
		switch {
		case b == '\t' || b == '\n' || b == '\r':
		case b < 32 || b == 127:
			ctrl++
		}
	}
	return float64(ctrl)/float64(len(sample)) <= maxControlRatio
}

// trimPartialRune drops an incomplete UTF-8 sequence cut off by the sample
// boundary.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}
