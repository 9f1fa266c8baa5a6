package postgresql

import (
	"errors"
	"testing"

	"github.com/dukex/flowline/pkg/persistence"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
		conflict  bool
	}{
		{name: "lock not available", err: &pq.Error{Code: "55P03"}, transient: true},
		{name: "deadlock", err: &pq.Error{Code: "40P01"}, transient: true},
		{name: "serialization failure", err: &pq.Error{Code: "40001"}, transient: true},
		{name: "unique violation", err: &pq.Error{Code: "23505"}, conflict: true},
		{name: "syntax error", err: &pq.Error{Code: "42601"}},
		{name: "plain error", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(tt.err)

			assert.Equal(t, tt.transient, persistence.IsTransient(err))
			assert.Equal(t, tt.conflict, persistence.IsConflict(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDialect_Rebind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SELECT * FROM tasks WHERE id = $1 AND name IN ($2, $3)",
		Dialect().Rebind("SELECT * FROM tasks WHERE id = ? AND name IN (?, ?)"))
}
