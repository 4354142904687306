package sniff

import (
	"bytes"
	"errors"
	"testing"
)

const testMaxSize = 1 << 20

// webmHeader is a minimal EBML header with a webm DocType.
func webmHeader() []byte {
	return append([]byte{0x1A, 0x45, 0xDF, 0xA3, 0x42, 0x82, 0x88}, []byte("webm")...)
}

// mp4Header is a minimal ftyp box with an isom major brand.
func mp4Header() []byte {
	b := []byte{0x00, 0x00, 0x00, 0x18}
	b = append(b, []byte("ftypisom")...)
	b = append(b, []byte{0x00, 0x00, 0x02, 0x00}...)
	b = append(b, []byte("isomiso2mp41")...)
	return b
}

// movHeader is a minimal ftyp box with the quicktime brand.
func movHeader() []byte {
	b := []byte{0x00, 0x00, 0x00, 0x14}
	b = append(b, []byte("ftypqt  ")...)
	b = append(b, []byte{0x00, 0x00, 0x00, 0x00}...)
	b = append(b, []byte("qt  ")...)
	return b
}

func TestDetect(t *testing.T) {
	t.Run("accepts webm", func(t *testing.T) {
		v, err := Detect(webmHeader(), testMaxSize)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.MIME != "video/webm" || v.Extension != ".webm" {
			t.Errorf("got %s/%s, want video/webm/.webm", v.MIME, v.Extension)
		}
	})

	t.Run("accepts mp4", func(t *testing.T) {
		v, err := Detect(mp4Header(), testMaxSize)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.MIME != "video/mp4" || v.Extension != ".mp4" {
			t.Errorf("got %s/%s, want video/mp4/.mp4", v.MIME, v.Extension)
		}
	})

	t.Run("accepts quicktime as .mov", func(t *testing.T) {
		v, err := Detect(movHeader(), testMaxSize)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.MIME != "video/quicktime" || v.Extension != ".mov" {
			t.Errorf("got %s/%s, want video/quicktime/.mov", v.MIME, v.Extension)
		}
	})

	t.Run("rejects markup renamed as video", func(t *testing.T) {
		// The filename claims .webm but the bytes are HTML; only the bytes count.
		data := []byte("<!DOCTYPE html><html><script>alert(1)</script></html>")
		if _, err := Detect(data, testMaxSize); !errors.Is(err, ErrUnsupported) {
			t.Errorf("got %v, want ErrUnsupported", err)
		}
	})

	t.Run("rejects unknown signatures", func(t *testing.T) {
		if _, err := Detect([]byte{0xDE, 0xAD, 0xBE, 0xEF}, testMaxSize); !errors.Is(err, ErrUnsupported) {
			t.Errorf("got %v, want ErrUnsupported", err)
		}
	})

	t.Run("rejects non-video media", func(t *testing.T) {
		png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
		if _, err := Detect(png, testMaxSize); !errors.Is(err, ErrUnsupported) {
			t.Errorf("got %v, want ErrUnsupported", err)
		}
	})

	t.Run("rejects empty uploads", func(t *testing.T) {
		if _, err := Detect(nil, testMaxSize); !errors.Is(err, ErrEmpty) {
			t.Errorf("got %v, want ErrEmpty", err)
		}
	})

	t.Run("re-checks actual size after buffering", func(t *testing.T) {
		big := append(webmHeader(), bytes.Repeat([]byte{0}, 64)...)
		if _, err := Detect(big, 32); !errors.Is(err, ErrTooLarge) {
			t.Errorf("got %v, want ErrTooLarge", err)
		}
	})
}

func TestCheckDeclared(t *testing.T) {
	t.Run("rejects declared size over ceiling", func(t *testing.T) {
		if err := CheckDeclared("clip.webm", testMaxSize+1, testMaxSize); !errors.Is(err, ErrTooLarge) {
			t.Errorf("got %v, want ErrTooLarge", err)
		}
	})

	t.Run("rejects dangerous declared extensions regardless of content", func(t *testing.T) {
		for _, name := range []string{"proof.html", "proof.svg", "proof.js", "proof.exe", "PROOF.HTM"} {
			if err := CheckDeclared(name, 10, testMaxSize); !errors.Is(err, ErrDangerousExt) {
				t.Errorf("CheckDeclared(%q): got %v, want ErrDangerousExt", name, err)
			}
		}
	})

	t.Run("accepts plausible video filenames", func(t *testing.T) {
		for _, name := range []string{"clip.webm", "clip.mp4", "clip.mov", "whatever.bin", ""} {
			if err := CheckDeclared(name, 10, testMaxSize); err != nil {
				t.Errorf("CheckDeclared(%q): unexpected error %v", name, err)
			}
		}
	})
}
