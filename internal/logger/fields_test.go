package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStringFieldsSkipsBlankEntries(t *testing.T) {
	fields := StringFields(
		StringField{Key: " stage ", Value: " match "},
		StringField{Key: "reason", Value: "\t"},
		StringField{Key: "", Value: "orphan"},
	)

	require.Len(t, fields, 1)
	assert.Equal(t, "stage", fields[0].Key)
	assert.Equal(t, "match", fields[0].String)
	assert.Empty(t, StringFields())
}

func TestWithFieldsAttachesContext(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	WithFields(zap.New(core), zap.String("opportunity", "O1")).Info("held")

	require.Equal(t, 1, observed.Len())
	assert.Equal(t, "O1", observed.All()[0].ContextMap()["opportunity"])

	// nil falls back to a no-op logger
	assert.NotPanics(t, func() { WithFields(nil, zap.String("x", "y")).Info("dropped") })
}

func TestWithCommonFieldsNamesProvider(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	WithCommonFields(zap.New(core), "qdrant", "").Info("lookup")

	ctx := observed.All()[0].ContextMap()
	assert.Equal(t, "qdrant", ctx[FieldProvider])
	assert.NotContains(t, ctx, FieldModel)
}

func TestRunFields(t *testing.T) {
	fields := RunFields("run-1", 3, 2)
	require.Len(t, fields, 3)
	assert.Equal(t, FieldRunID, fields[0].Key)
	assert.Equal(t, "run-1", fields[0].String)
	assert.Equal(t, "candidates", fields[1].Key)
	assert.EqualValues(t, 3, fields[1].Integer)
	assert.Equal(t, "opportunities", fields[2].Key)

	assert.Len(t, RunFields("run-1", -1, -1), 1)
	assert.Empty(t, RunFields(" ", -1, -1))
}

func TestWithRun(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	WithRun(zap.New(core), "run-7").Info("stage finished")

	ctx := observed.All()[0].ContextMap()
	assert.Equal(t, "run-7", ctx[FieldRunID])
	assert.NotContains(t, ctx, "candidates")
}
