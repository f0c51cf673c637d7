package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/angeloszaimis/appwrite-keepalive/internal/keepalive"
)

var rule = strings.Repeat("─", 40)

// Summary aggregates the results of one keepalive round.
type Summary struct {
	Total      int
	Successful int
	Failed     int
	Failures   []keepalive.Result
}

func Summarize(results []keepalive.Result) Summary {
	s := Summary{Total: len(results)}

	for _, r := range results {
		if r.Success {
			s.Successful++
			continue
		}
		s.Failed++
		s.Failures = append(s.Failures, r)
	}

	return s
}

// OK reports whether every project was kept alive.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Write prints the summary block shown at the end of a run.
func Write(w io.Writer, s Summary) error {
	var b strings.Builder

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "Summary:")
	fmt.Fprintf(&b, "  Successful: %d\n", s.Successful)
	fmt.Fprintf(&b, "  Failed: %d\n", s.Failed)
	fmt.Fprintln(&b)

	if s.OK() {
		fmt.Fprintln(&b, "All projects alive.")
	} else {
		fmt.Fprintln(&b, "Failed projects:")
		for _, r := range s.Failures {
			fmt.Fprintf(&b, "  - %s: %s\n", r.Label(), r.Message)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteHeader prints the banner shown before processing starts.
func WriteHeader(w io.Writer, version string, projects int) error {
	_, err := fmt.Fprintf(w, "appwrite-keepalive %s\n%s\nProcessing %d project(s)...\n\n", version, rule, projects)
	return err
}
