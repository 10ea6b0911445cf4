// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package formatters

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/modelgym/modelgym/runners"
)

// NewLogFormatter creates a new formatter that outputs detailed run summaries as an ASCII table.
func NewLogFormatter() Formatter {
	return &logFormatter{}
}

type logFormatter struct{}

func (f logFormatter) FileExt() string {
	return "log"
}

func (f logFormatter) Write(summaries []runners.RunSummary, out io.Writer) error {
	tab := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.Debug)
	defer tab.Flush()
	if _, err := fmt.Fprintln(tab, "RunID\tModel\tGroup\tStatus\tSteps\tScore\tDuration\t"); err != nil {
		return fmt.Errorf("%w: %v", ErrPrintResults, err)
	}

	return ForEachOrdered(ByModel(summaries), func(_ string, modelRuns []runners.RunSummary) error {
		for _, summary := range modelRuns {
			if _, err := fmt.Fprintf(tab, "%d\t%s\t%s\t%s\t%d/%d\t%.1f\t%s\t\n",
				summary.RunID, summary.ModelID, summary.Group, ToStatus(summary.RunPassed),
				summary.Passed, summary.Total, summary.Score, RoundToMS(summary.Duration)); err != nil {
				return fmt.Errorf("%w: %v", ErrPrintResults, err)
			}
		}
		return nil
	})
}
