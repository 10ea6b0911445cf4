// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package formatters

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/modelgym/modelgym/runners"
)

// NewCSVFormatter creates a new formatter that outputs run summaries in CSV format.
func NewCSVFormatter() Formatter {
	return &csvFormatter{}
}

type csvFormatter struct{}

func (f csvFormatter) FileExt() string {
	return "csv"
}

func (f csvFormatter) Write(summaries []runners.RunSummary, out io.Writer) error {
	writer := csv.NewWriter(out)
	defer writer.Flush()

	headers := []string{"Model", "Group", "Status", "Passed", "Total", "Score", "Duration"}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("%w: %v", ErrPrintResults, err)
	}

	return ForEachOrdered(ByModel(summaries), func(_ string, modelRuns []runners.RunSummary) error {
		for _, summary := range modelRuns {
			row := []string{
				summary.ModelID,
				summary.Group,
				ToStatus(summary.RunPassed),
				strconv.Itoa(summary.Passed),
				strconv.Itoa(summary.Total),
				strconv.FormatFloat(summary.Score, 'f', 1, 64),
				RoundToMS(summary.Duration).String(),
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("%w: %v", ErrPrintResults, err)
			}
		}
		return nil
	})
}
