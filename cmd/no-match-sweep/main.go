// no-match-sweep runs the explicit no-match classification pass directly
// against the database, for operators who prefer a one-shot over the HTTP
// trigger. Optionally scoped to a single run.
//
// Usage:
//
//	DB_USER=... DB_HOST=... go run ./cmd/no-match-sweep [-run 42]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/workflow"
)

func main() {
	runFlag := flag.Uint("run", 0, "restrict the sweep to one run id")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	var runId *uint
	if *runFlag > 0 {
		v := uint(*runFlag)
		runId = &v
	}

	summary, err := workflow.SweepNoMatch(db, config.GetLogger(), runId)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sweep done: unmatched_a=%d unmatched_b=%d promoted=%d skipped=%d\n",
		summary.UnmatchedSourceA, summary.UnmatchedSourceB, summary.Promoted, summary.GroupsSkipped)
}
