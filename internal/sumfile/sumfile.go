// Package sumfile reads and writes checksum files.
//
// One entry per line, "<hex-digest> *<path>". Lines starting with ";" are
// ignored; lines starting with "//" are kept as a display-only comment block.
// The reader also accepts the text-mode "<hex>  <path>" form and, for CRC32,
// the classic SFV "<path> <crc>" order.
package sumfile

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eargollo/sumcheck/internal/digest"
)

// ErrMalformedLine is wrapped by LineError for lines that are neither a
// comment nor a recognisable entry.
var ErrMalformedLine = errors.New("malformed checksum line")

// ErrNoAlgorithm is returned when the algorithm is neither given nor implied
// by the file extension.
var ErrNoAlgorithm = errors.New("cannot infer digest algorithm")

// LineError locates a malformed line.
type LineError struct {
	Line int
	Text string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, ErrMalformedLine, e.Text)
}

func (e *LineError) Unwrap() error { return ErrMalformedLine }

// Entry is one digest line.
type Entry struct {
	Path   string // OS-native, relative to the checksum file unless absolute
	Digest []byte
	Line   int
}

// File is a parsed checksum file.
type File struct {
	Algorithm digest.Algorithm
	Comments  []string
	Entries   []Entry
	Invalid   []*LineError
}

// Load opens and parses path. If algo is empty it is taken from the
// extension.
func Load(path string, algo digest.Algorithm) (*File, error) {
	if algo == "" {
		a, ok := digest.FromPath(path)
		if !ok {
			return nil, fmt.Errorf("%w from %q", ErrNoAlgorithm, path)
		}
		algo = a
	}
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("open checksum file %q: %w", path, err)
	}
	defer f.Close()

	sf, err := Parse(f, algo)
	if err != nil {
		return nil, fmt.Errorf("parse checksum file %q: %w", path, err)
	}
	return sf, nil
}

// Parse reads entries from r. Malformed lines are collected in Invalid and
// parsing continues; only read errors are returned.
func Parse(r io.Reader, algo digest.Algorithm) (*File, error) {
	if !algo.Valid() {
		return nil, fmt.Errorf("%w: %q", digest.ErrUnknownAlgorithm, string(algo))
	}
	sf := &File{Algorithm: algo}
	hexLen := 2 * algo.Size()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if n == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, ";"):
			continue
		case strings.HasPrefix(trimmed, "//"):
			sf.Comments = append(sf.Comments, strings.TrimPrefix(strings.TrimPrefix(trimmed, "//"), " "))
			continue
		}

		e, ok := parseEntry(line, hexLen, algo == digest.CRC32)
		if !ok {
			sf.Invalid = append(sf.Invalid, &LineError{Line: n, Text: line})
			continue
		}
		e.Line = n
		sf.Entries = append(sf.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return sf, nil
}

func parseEntry(line string, hexLen int, sfvOrder bool) (Entry, bool) {
	// "<hex> *<path>" or "<hex>  <path>"
	if len(line) > hexLen+1 && line[hexLen] == ' ' {
		if d, err := hex.DecodeString(line[:hexLen]); err == nil {
			rest := line[hexLen+1:]
			if strings.HasPrefix(rest, "*") || strings.HasPrefix(rest, " ") {
				rest = rest[1:]
			}
			if rest != "" {
				return Entry{Path: nativePath(rest), Digest: d}, true
			}
		}
	}
	if !sfvOrder {
		return Entry{}, false
	}
	// "<path> <crc>"
	i := strings.LastIndexByte(strings.TrimRight(line, " \t"), ' ')
	if i <= 0 {
		return Entry{}, false
	}
	tok := strings.TrimSpace(line[i+1:])
	if len(tok) != hexLen {
		return Entry{}, false
	}
	d, err := hex.DecodeString(tok)
	if err != nil {
		return Entry{}, false
	}
	p := strings.TrimSpace(line[:i])
	if p == "" {
		return Entry{}, false
	}
	return Entry{Path: nativePath(p), Digest: d}, true
}

// nativePath accepts either separator so files written on Windows verify
// elsewhere.
func nativePath(p string) string {
	return filepath.FromSlash(strings.ReplaceAll(p, `\`, "/"))
}

// Resolve returns the absolute location of e relative to the checksum file
// at sumPath.
func Resolve(sumPath string, e Entry) string {
	if filepath.IsAbs(e.Path) {
		return e.Path
	}
	return filepath.Join(filepath.Dir(sumPath), e.Path)
}

// Write emits f in canonical form.
func Write(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)
	for _, c := range f.Comments {
		if _, err := fmt.Fprintf(bw, "// %s\n", c); err != nil {
			return err
		}
	}
	for _, e := range f.Entries {
		if _, err := fmt.Fprintf(bw, "%s *%s\n", f.Algorithm.Hex(e.Digest), filepath.ToSlash(e.Path)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes f to path through a temp file and rename so a reader never
// sees a half-written checksum file.
func Save(path string, f *File) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sumcheck-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // gone after a successful rename

	if err := Write(tmp, f); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp to %q: %w", path, err)
	}
	return nil
}
