package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eargollo/sumcheck/internal/scan"
	"github.com/eargollo/sumcheck/internal/store"
)

// printProblems lists every entry that did not end OK.
func printProblems(w io.Writer, st *store.Store) {
	st.Each(func(e store.Entry) bool {
		switch e.Status {
		case store.Bad, store.Missing, store.Error:
			fmt.Fprintf(w, "%-8s %s\n", strings.ToUpper(e.Status.String()), e.FullPath())
		}
		return true
	})
}

func printSummary(w io.Writer, s scan.Summary) {
	mode := "parallel"
	if s.Sequential {
		mode = "sequential"
	}
	fmt.Fprintf(w, "%d files: %d ok, %d bad, %d missing, %d unreadable\n",
		s.Completed, s.OK, s.Bad, s.Missing, s.Errors)
	fmt.Fprintf(w, "%s %s read in %s (%d workers, %s)\n",
		s.Algorithm, humanize.IBytes(uint64(s.Bytes)), s.Elapsed.Round(time.Millisecond), s.Workers, mode)
	if s.Legacy {
		fmt.Fprintln(w, "note: some CRC32 values only matched with reversed byte order")
	}
}
