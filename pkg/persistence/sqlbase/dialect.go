package sqlbase

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the SQL databases the stores run on.
// Queries are written with "?" placeholders and rebound per dialect.
type Dialect struct {
	Name string
	// NumberedPlaceholders selects $1, $2, ... instead of ?.
	NumberedPlaceholders bool
	// LockForUpdate is appended to locking reads; empty when the database serializes writers itself.
	LockForUpdate string
	// LockForUpdateNoWait is appended to locking reads that must fail instead of waiting.
	LockForUpdateNoWait string
	// SkipLocked is appended to queue reads so concurrent consumers skip claimed rows.
	SkipLocked string
	// MergeJSON returns the assignment replacing the top-level keys of the JSON object parameter in column.
	// When nil the store rewrites the whole object, which needs writers serialized by the database.
	MergeJSON func(column string) string
	// ClassifyError maps driver errors onto persistence sentinels. It must return err unchanged when unknown.
	ClassifyError func(err error) error
}

// Rebind rewrites ? placeholders for the dialect.
func (d *Dialect) Rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}

	var builder strings.Builder

	builder.Grow(len(query) + 8)

	n := 0

	for _, r := range query {
		if r == '?' {
			n++

			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))

			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

// Classify applies ClassifyError when configured.
func (d *Dialect) Classify(err error) error {
	if err == nil || d.ClassifyError == nil {
		return err
	}

	return d.ClassifyError(err)
}

// In renders a placeholder list for n values, e.g. "(?, ?, ?)".
func In(n int) string {
	if n == 0 {
		return "(NULL)"
	}

	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}
