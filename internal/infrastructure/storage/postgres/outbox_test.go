package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertOutboxSQL_SkipsExistingIDs(t *testing.T) {
	assert.Contains(t, insertOutboxSQL, "ON CONFLICT (id) DO NOTHING")
}
