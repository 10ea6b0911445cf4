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

// NewSummaryLogFormatter creates a new formatter that outputs per-model aggregates as an ASCII table.
func NewSummaryLogFormatter() Formatter {
	return &summaryLogFormatter{}
}

type summaryLogFormatter struct{}

func (f summaryLogFormatter) FileExt() string {
	return "summary.log"
}

func (f summaryLogFormatter) Write(summaries []runners.RunSummary, out io.Writer) error {
	tab := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.Debug)
	defer tab.Flush()
	if _, err := fmt.Fprintln(tab, "Model\tGroups\tPass Rate (%)\tAvg Score\tTotal Duration\t"); err != nil {
		return fmt.Errorf("%w: %v", ErrPrintResults, err)
	}
	return ForEachOrdered(ByModel(summaries), func(model string, modelRuns []runners.RunSummary) error {
		if _, err := fmt.Fprintf(tab, "%s\t%d\t%.2f\t%.1f\t%s\t\n",
			model, len(modelRuns),
			Percent(PassRate(modelRuns)),
			AverageScore(modelRuns),
			RoundToMS(TotalDuration(modelRuns))); err != nil {
			return fmt.Errorf("%w: %v", ErrPrintResults, err)
		}
		return nil
	})
}
