package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

var exportHeader = []string{
	"ID",
	"ChangedAt",
	"EntityType",
	"EntityID",
	"Action",
	"ChangedByUserID",
	"ChangedByAPIKeyID",
	"Changes",
	"DiffError",
}

// exportJSON exports audit entries as JSON array
func exportJSON(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports audit entries as newline-delimited JSON
func exportNDJSON(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports audit entries as CSV
func exportCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range entries {
		row, err := exportRow(&entries[i])
		if err != nil {
			return nil, err
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// exportXLSX exports audit entries as a single-sheet workbook
func exportXLSX(entries []Entry) ([]byte, error) {
	const sheet = "Audit"

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := writeXLSXRow(f, sheet, 1, exportHeader); err != nil {
		return nil, err
	}
	for i := range entries {
		row, err := exportRow(&entries[i])
		if err != nil {
			return nil, err
		}
		if err := writeXLSXRow(f, sheet, i+2, row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeXLSXRow(f *excelize.File, sheet string, rowNo int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return err
	}
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write row %d: %w", rowNo, err)
	}
	return nil
}

func exportRow(e *Entry) ([]string, error) {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode changes for %s: %w", e.ID, err)
	}
	return []string{
		e.ID,
		e.ChangedAt.UTC().Format(time.RFC3339Nano),
		e.EntityType,
		e.EntityID,
		string(e.Action),
		formatStringPtr(e.ChangedByUserID),
		formatStringPtr(e.ChangedByAPIKeyID),
		string(changes),
		formatStringPtr(e.DiffError),
	}, nil
}

// formatStringPtr returns empty string for nil
func formatStringPtr(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}
