package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeError reports that file bytes could not be decoded as text
type DecodeError struct {
	Path     string
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("decode as %s: %v", e.Encoding, e.Err)
	}
	return fmt.Sprintf("decode %s as %s: %v", e.Path, e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var errInvalidUTF8 = errors.New("invalid UTF-8")

var boms = []struct {
	prefix []byte
	name   string
}{
	{[]byte{0xEF, 0xBB, 0xBF}, "utf-8"},
	{[]byte{0xFF, 0xFE}, "utf-16le"},
	{[]byte{0xFE, 0xFF}, "utf-16be"},
}

// Decode converts raw bytes to text. name is "utf8", "_auto" for detection,
// or any WHATWG/IANA encoding label. It also returns the encoding used.
func Decode(raw []byte, name string) (string, string, error) {
	switch strings.ToLower(name) {
	case "", EncodingUTF8, "utf-8":
		if !utf8.Valid(raw) {
			return "", "utf-8", &DecodeError{Encoding: "utf-8", Err: errInvalidUTF8}
		}
		return string(raw), "utf-8", nil
	case EncodingAuto:
		return decodeAuto(raw)
	}

	enc, err := lookupEncoding(name)
	if err != nil {
		return "", name, &DecodeError{Encoding: name, Err: err}
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", name, &DecodeError{Encoding: name, Err: err}
	}
	return string(out), name, nil
}

func decodeAuto(raw []byte) (string, string, error) {
	for _, b := range boms {
		if bytes.HasPrefix(raw, b.prefix) {
			out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
			if err != nil {
				return "", b.name, &DecodeError{Encoding: b.name, Err: err}
			}
			return string(out), b.name, nil
		}
	}
	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}

	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || res == nil || res.Charset == "" {
		if err == nil {
			err = errors.New("no charset candidate")
		}
		return "", EncodingAuto, &DecodeError{Encoding: EncodingAuto, Err: err}
	}
	enc, err := lookupEncoding(res.Charset)
	if err != nil {
		return "", res.Charset, &DecodeError{Encoding: res.Charset, Err: err}
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", res.Charset, &DecodeError{Encoding: res.Charset, Err: err}
	}
	return string(out), res.Charset, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if enc, err := htmlindex.Get(label); err == nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(strings.ReplaceAll(label, "_", "-")); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}
