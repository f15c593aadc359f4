package element

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Calibration workbooks carry the prompt in column L ("2.1 > Ask ...") and
// the calibrator notes in column M.
const (
	askColumn   = 11
	notesColumn = 12
)

// askCellPattern splits a column L cell into its element number and prompt.
var askCellPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)*)\s*[>\-–—]\s*(.+?)\s*$`)

// ReadWorkbook extracts element definitions from every sheet of the
// calibration workbook at path.
func ReadWorkbook(path string) ([]Definition, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

// ReadWorkbookFrom is ReadWorkbook for an already open stream.
func ReadWorkbookFrom(r io.Reader) ([]Definition, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

func readWorkbook(f *excelize.File) ([]Definition, error) {
	var defs []Definition
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			if def, ok := parseWorkbookRow(row); ok {
				defs = append(defs, def)
			}
		}
	}

	if len(defs) == 0 {
		return nil, ErrNoDefinitions
	}
	return defs, nil
}

// parseWorkbookRow turns one sheet row into a definition. Rows with a blank
// prompt or notes cell, or a prompt that does not start with an element
// number, are not element rows.
func parseWorkbookRow(row []string) (Definition, bool) {
	if len(row) <= notesColumn {
		return Definition{}, false
	}

	askCell := strings.TrimSpace(row[askColumn])
	notesCell := strings.TrimSpace(row[notesColumn])
	if askCell == "" || notesCell == "" {
		return Definition{}, false
	}

	m := askCellPattern.FindStringSubmatch(askCell)
	if m == nil {
		return Definition{}, false
	}

	number := m[1]
	ask := strings.Trim(strings.TrimSpace(m[2]), `"'`)

	return Definition{
		RawID:           number,
		Numeric:         strings.Count(number, ".") <= 1,
		AskLookFor:      ask,
		CalibratorNotes: notesCell,
	}, true
}
