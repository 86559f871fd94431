package chunk

import (
	"errors"
	"testing"
)

func TestDecodeUTF8(t *testing.T) {
	text, enc, err := Decode([]byte("héllo"), EncodingUTF8)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "héllo" || enc != "utf-8" {
		t.Errorf("unexpected result %q (%s)", text, enc)
	}

	_, _, err = Decode([]byte{0xff, 0xfe, 0xfd}, EncodingUTF8)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestDecodeNamedEncoding(t *testing.T) {
	text, _, err := Decode([]byte{'c', 'a', 'f', 0xe9}, "latin1")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "café" {
		t.Errorf("expected café, got %q", text)
	}

	if _, _, err := Decode([]byte("x"), "no-such-encoding"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestDecodeAuto(t *testing.T) {
	text, enc, err := Decode(append([]byte{0xEF, 0xBB, 0xBF}, "hi"...), EncodingAuto)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "hi" {
		t.Errorf("expected BOM to be stripped, got %q", text)
	}
	if enc != "utf-8" {
		t.Errorf("expected utf-8, got %s", enc)
	}

	text, _, err = Decode([]byte("plain ascii"), EncodingAuto)
	if err != nil || text != "plain ascii" {
		t.Errorf("unexpected result %q, %v", text, err)
	}

	latin := []byte("Le caf\xe9 est tr\xe8s bon, le th\xe9 aussi. Voil\xe0 pourquoi nous y allons souvent.")
	text, _, err = Decode(latin, EncodingAuto)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text == "" {
		t.Error("expected decoded text")
	}
}
