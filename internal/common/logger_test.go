package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStatsLogFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewStats()
	s.AddFile(120)
	s.AddRows(10)
	s.AddFiltered(3)
	s.AddWritten(7)

	s.Log(zap.New(core))

	rows := logs.FilterMessage("rows").All()
	require.Len(t, rows, 1)
	fields := rows[0].ContextMap()
	assert.Equal(t, uint64(10), fields["read"])
	assert.Equal(t, uint64(3), fields["filtered"])
	assert.Equal(t, uint64(7), fields["written"])
	assert.Equal(t, 1, logs.FilterMessage("Final Statistics").Len())
}
