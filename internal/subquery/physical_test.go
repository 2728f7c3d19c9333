package subquery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"datalens/internal/types"
)

func TestWriteStatementGuard(t *testing.T) {
	writes := []string{
		"DROP TABLE factories",
		"delete from factories where id = 1",
		"SELECT 1; INSERT INTO t VALUES (1)",
		"UPDATE factories SET name = 'x'",
		"TRUNCATE TABLE factories",
	}
	for _, sql := range writes {
		assert.True(t, dmlPattern.MatchString(sql), "should reject: %s", sql)
	}

	reads := []string{
		"SELECT f.id, f.created_at FROM factories f",
		"SELECT updated_by FROM audit_trail",
		"SELECT name FROM creators",
	}
	for _, sql := range reads {
		assert.False(t, dmlPattern.MatchString(sql), "should pass: %s", sql)
	}
}

func TestEstimatedRowsExtraction(t *testing.T) {
	frame := types.ResultFrame{Success: true, ExecutionStats: map[string]any{"estimated_rows": float64(99)}}
	n, ok := estimatedRows(frame)
	assert.True(t, ok)
	assert.EqualValues(t, 99, n)

	_, ok = estimatedRows(types.ResultFrame{Success: true})
	assert.False(t, ok)
}
