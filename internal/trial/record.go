package trial

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the local date-time layout of start_date in the record file.
const DateLayout = "2006-01-02 15:04:05"

// ErrCorruptRecord is returned by Decode for content that is not a valid
// trial record. Callers treat it the same as a missing record.
var ErrCorruptRecord = errors.New("trial: corrupt record")

type recordFile struct {
	Started   bool   `json:"trial_started"`
	StartDate string `json:"start_date,omitempty"`
}

// FormatDate renders t in DateLayout in the local time zone.
func FormatDate(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// ParseDate accepts DateLayout in the local time zone, or RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(DateLayout, s, time.Local); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Encode renders r as the record file body.
func Encode(r Record) []byte {
	f := recordFile{Started: r.Started}
	if r.Started {
		f.StartDate = FormatDate(r.StartDate)
	}
	// a struct of a bool and a string always marshals
	data, _ := json.Marshal(f)
	return data
}

// Decode parses a record file body. Anything other than a JSON object, or a
// started record without a parseable start_date, yields ErrCorruptRecord and
// a zero Record.
func Decode(data []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Record{}, fmt.Errorf("%w: not a JSON object", ErrCorruptRecord)
	}

	var f recordFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !f.Started {
		return Record{}, nil
	}

	start, err := ParseDate(f.StartDate)
	if err != nil {
		return Record{}, fmt.Errorf("%w: start_date %q", ErrCorruptRecord, f.StartDate)
	}
	return Record{Started: true, StartDate: start}, nil
}
