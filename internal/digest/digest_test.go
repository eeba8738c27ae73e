package digest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/zeebo/xxh3"
)

func TestEmptyInputDigests(t *testing.T) {
	xx := xxh3.Hash128(nil).Bytes()
	tests := []struct {
		algo Algorithm
		want string
	}{
		{CRC32, "00000000"},
		{MD5, "d41d8cd98f00b204e9800998ecf8427e"},
		{SHA1, "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{SHA256, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{XXH3, hex.EncodeToString(xx[:])},
	}
	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			got := hex.EncodeToString(tt.algo.Sum(nil))
			if got != tt.want {
				t.Errorf("empty digest: got %s, want %s", got, tt.want)
			}
			if n := len(tt.algo.Sum(nil)); n != tt.algo.Size() {
				t.Errorf("Size()=%d but Sum produced %d bytes", tt.algo.Size(), n)
			}
		})
	}
}

func TestStreamingMatchesOneShot(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 10_000)
	for _, a := range All() {
		h := a.New()
		for i := 0; i < len(data); i += 4093 {
			end := min(i+4093, len(data))
			h.Write(data[i:end])
		}
		if got, want := h.Sum(nil), a.Sum(data); !bytes.Equal(got, want) {
			t.Errorf("%s: streaming %x != one-shot %x", a, got, want)
		}
	}
}

func TestResetReusesInstance(t *testing.T) {
	for _, a := range All() {
		h := a.New()
		h.Write([]byte("first file"))
		h.Reset()
		h.Write([]byte("hello"))
		if got, want := h.Sum(nil), a.Sum([]byte("hello")); !bytes.Equal(got, want) {
			t.Errorf("%s: after Reset got %x, want %x", a, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	cases := map[string]Algorithm{
		"SHA-256": SHA256,
		"sha256":  SHA256,
		"sfv":     CRC32,
		"CRC32":   CRC32,
		"md5":     MD5,
		"Sha1":    SHA1,
		"xxh128":  XXH3,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := Parse("blake3"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("Parse(blake3): got %v, want ErrUnknownAlgorithm", err)
	}
}

func TestFromPath(t *testing.T) {
	cases := map[string]Algorithm{
		"/tmp/a.sfv":     CRC32,
		"set.MD5":        MD5,
		"x/y/z.sha1":     SHA1,
		"release.sha256": SHA256,
		"backup.xxh3":    XXH3,
	}
	for p, want := range cases {
		got, ok := FromPath(p)
		if !ok || got != want {
			t.Errorf("FromPath(%q) = %s,%v want %s", p, got, ok, want)
		}
	}
	if _, ok := FromPath("notes.txt"); ok {
		t.Error("FromPath(notes.txt) should not resolve")
	}
}

func TestOnlyCRC32ToleratesReversal(t *testing.T) {
	for _, a := range All() {
		if got := a.ToleratesReversedBytes(); got != (a == CRC32) {
			t.Errorf("%s: ToleratesReversedBytes=%v", a, got)
		}
	}
}

func TestHexCase(t *testing.T) {
	if got := CRC32.Hex([]byte{0xab, 0xcd, 0x01, 0x02}); got != "ABCD0102" {
		t.Errorf("CRC32 hex: %s", got)
	}
	if got := MD5.Hex([]byte{0xab}); got != "ab" {
		t.Errorf("MD5 hex: %s", got)
	}
}
