package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ragchat/bluegreen/pkg/pipeline"
)

func newTabwriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
}

func makeExample(examples ...string) string {
	var buf bytes.Buffer
	for _, ex := range examples {
		fmt.Fprintf(&buf, "  %s\n", ex)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// printRun writes a run's stages as a table, one row per stage in
// execution order.
func printRun(run pipeline.Run) {
	w := newTabwriter()
	fmt.Fprintf(w, "STAGE\tSERVICE\tSTATE\tTOOK\tERROR\n")
	for _, st := range run.Stages {
		took := ""
		if !st.FinishedAt.IsZero() {
			took = st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.Stage, st.Service, st.State, took, st.Error)
	}
	w.Flush()
}
