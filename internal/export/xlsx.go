// Package export renders run data as spreadsheets.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"ltvsync/internal/models"
)

const (
	contactsSheet = "Contacts"
	summarySheet  = "Summary"
)

var contactHeader = []string{"ghl_contact_id", "email", "phone", "first_name", "last_name", "raw_ltv", "normalized_value", "meta_matched"}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RunContactsXLSX builds a workbook with a summary sheet and one row per
// uploaded contact. It returns the suggested filename and the file bytes.
func RunContactsXLSX(run *models.SyncRun, contacts []models.SyncContact) (string, []byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), contactsSheet); err != nil {
		return "", nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := xl.SetSheetRow(contactsSheet, "A1", &contactHeader); err != nil {
		return "", nil, fmt.Errorf("write header: %w", err)
	}
	for i, c := range contacts {
		record := []interface{}{
			c.GHLContactID,
			str(c.Email),
			str(c.Phone),
			str(c.FirstName),
			str(c.LastName),
			c.RawLTV,
			c.NormalizedValue,
			c.MetaMatched,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(contactsSheet, cell, &record); err != nil {
			return "", nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := xl.NewSheet(summarySheet); err != nil {
		return "", nil, fmt.Errorf("create summary sheet: %w", err)
	}
	completed := ""
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	summary := [][]interface{}{
		{"run_id", run.ID},
		{"run_uuid", run.RunUUID},
		{"status", run.Status},
		{"started_at", run.StartedAt.UTC().Format(time.RFC3339)},
		{"completed_at", completed},
		{"contacts_processed", run.ContactsProcessed},
		{"contacts_matched", run.ContactsMatched},
		{"meta_audience_id", str(run.MetaAudienceID)},
		{"meta_lookalike_id", str(run.MetaLookalikeID)},
	}
	if stats := run.Stats(); stats != nil {
		summary = append(summary,
			[]interface{}{"min_ltv", stats.MinLTV},
			[]interface{}{"max_ltv", stats.MaxLTV},
			[]interface{}{"median_ltv", stats.MedianLTV},
			[]interface{}{"mean_ltv", stats.MeanLTV},
		)
		for i, n := range stats.Distribution {
			summary = append(summary, []interface{}{fmt.Sprintf("bucket_%d_%d", i*10, i*10+9), n})
		}
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(summarySheet, cell, &row); err != nil {
			return "", nil, fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("write workbook: %w", err)
	}
	return fmt.Sprintf("sync_run_%d_contacts.xlsx", run.ID), buf.Bytes(), nil
}
