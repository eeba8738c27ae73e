package scan

import (
	"path/filepath"
	"strings"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/store"
	"github.com/eargollo/sumcheck/internal/sumfile"
)

// SumFile builds the checksum file that will be written to outPath from the
// OK entries of st, in store order. Paths below outPath's directory are
// written relative to it; anything else stays absolute. An entry for outPath
// itself is left out.
func SumFile(st *store.Store, algo digest.Algorithm, outPath string) *sumfile.File {
	f := &sumfile.File{Algorithm: algo}
	absOut, err := filepath.Abs(outPath)
	if err != nil {
		absOut = outPath
	}
	dir := filepath.Dir(absOut)
	st.Each(func(e store.Entry) bool {
		if e.Summary || e.Status != store.OK {
			return true
		}
		p := e.FullPath()
		if p == absOut {
			return true
		}
		if rel, err := filepath.Rel(dir, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			p = rel
		}
		f.Entries = append(f.Entries, sumfile.Entry{Path: p, Digest: e.Computed})
		return true
	})
	return f
}
