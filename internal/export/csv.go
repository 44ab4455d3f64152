package export

import (
	"encoding/csv"
	"io"

	"doortracker/internal/clock"
	"doortracker/internal/scan"
)

// csvTimeLayout matches the "%F %T" format the old admin exports used.
const csvTimeLayout = "2006-01-02 15:04:05"

// WriteLogsCSV writes the flat check-in/check-out log as CSV, with
// timestamps rendered in the configured local zone.
func WriteLogsCSV(w io.Writer, cal clock.Calendar, logs []scan.LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "direction", "type", "tag", "member_id", "member"}); err != nil {
		return err
	}
	for _, entry := range logs {
		tag := entry.TagCode
		if tag == "" {
			tag = "-"
		}
		record := []string{
			cal.In(entry.Time).Format(csvTimeLayout),
			entry.Direction,
			string(entry.Kind),
			tag,
			entry.MemberID,
			entry.MemberName,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
