package main

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
)

const itemsSheet = "Items"

var itemsHeader = []any{"Module", "Org unit", "Period", "Status", "Submission", "Approved", "Questionnaire completed", "Last change"}

// writeItemsXLSX saves items as a single sheet workbook at path.
func writeItemsXLSX(path string, items []submission.Item) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", itemsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(itemsSheet, "A1", &itemsHeader); err != nil {
		return err
	}
	for i, it := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		lastChange := ""
		if n := len(it.StatusHistory); n > 0 {
			lastChange = it.StatusHistory[n-1].ChangedAt.UTC().Format(time.RFC3339)
		}
		row := []any{it.Module, it.OrgUnit, it.Period, string(it.Status), it.SubmissionLabel(), it.IsApproved(), it.QuestionnaireCompleted, lastChange}
		if err := f.SetSheetRow(itemsSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
