package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBudget_AddCountsThroughBreach(t *testing.T) {
	b := NewRunBudget(100)

	assert.Nil(t, b.Add(60))
	assert.False(t, b.Exhausted())

	v := b.Add(60)
	require.NotNil(t, v)
	assert.Equal(t, LimitRunByteBudget, v.LimitType)
	assert.Equal(t, int64(120), v.Observed)

	// Bytes already moved stay counted after the breach.
	assert.Equal(t, int64(120), b.BytesSeen())
	assert.True(t, b.Exhausted())
}

func TestRunBudget_Unlimited(t *testing.T) {
	b := NewRunBudget(0)
	assert.Nil(t, b.Add(1 << 40))
	assert.False(t, b.Exhausted())
	assert.Nil(t, b.CheckHint(1<<40))
}

func TestRunBudget_CheckHintMovesNoBytes(t *testing.T) {
	b := NewRunBudget(100)
	require.NotNil(t, b.CheckHint(150))
	assert.Equal(t, int64(0), b.BytesSeen())
	assert.Nil(t, b.CheckHint(80))
}

func TestRunBudget_ConcurrentAdd(t *testing.T) {
	b := NewRunBudget(0)
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = b.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1600), b.BytesSeen())
}

func TestEnforcer_FileCountCap(t *testing.T) {
	e := NewEnforcer(2, 0, 0, nil)
	assert.Nil(t, e.StartFile())
	assert.Nil(t, e.StartFile())

	v := e.StartFile()
	require.NotNil(t, v)
	assert.Equal(t, LimitFilesPerTarget, v.LimitType)
	assert.Equal(t, int64(3), v.Observed)
}

func TestEnforcer_SizeHintChecksEveryCap(t *testing.T) {
	run := NewRunBudget(1000)
	e := NewEnforcer(0, 500, 200, run)

	assert.Nil(t, e.CheckSizeHint(0), "unknown size passes")
	assert.Nil(t, e.CheckSizeHint(150))

	v := e.CheckSizeHint(300)
	require.NotNil(t, v)
	assert.Equal(t, LimitBytesPerFile, v.LimitType)

	e.BytesSeen = 400
	v = e.CheckSizeHint(150)
	require.NotNil(t, v)
	assert.Equal(t, LimitBytesPerTarget, v.LimitType)

	require.Nil(t, run.Add(900))
	e2 := NewEnforcer(0, 0, 0, run)
	v = e2.CheckSizeHint(150)
	require.NotNil(t, v)
	assert.Equal(t, LimitRunByteBudget, v.LimitType)
}

func TestEnforcer_RecordBytes(t *testing.T) {
	e := NewEnforcer(0, 0, 80, nil)

	require.Nil(t, e.StartFile())
	assert.Nil(t, e.RecordBytes(70))

	v := e.RecordBytes(90)
	require.NotNil(t, v)
	assert.Equal(t, LimitBytesPerFile, v.LimitType)
	assert.Equal(t, int64(160), v.Observed, "cumulative file size, not the last chunk")

	e = NewEnforcer(0, 100, 0, nil)
	assert.Nil(t, e.RecordBytes(60))
	v = e.RecordBytes(60)
	require.NotNil(t, v)
	assert.Equal(t, LimitBytesPerTarget, v.LimitType)
}

// TestEnforcer_FileCapAcrossChunks streams one file in chunks each below the
// per-file cap; the cap must fire on the running total.
func TestEnforcer_FileCapAcrossChunks(t *testing.T) {
	e := NewEnforcer(0, 0, 100, nil)
	require.Nil(t, e.StartFile())

	assert.Nil(t, e.RecordBytes(60))
	v := e.RecordBytes(60)
	require.NotNil(t, v)
	assert.Equal(t, LimitBytesPerFile, v.LimitType)
	assert.Equal(t, int64(120), v.Observed)

	// The next file starts from a clean counter.
	require.Nil(t, e.StartFile())
	assert.Nil(t, e.RecordBytes(60))
}

// TestEnforcer_SeedFileCountsResumePrefix seeds the file counter with an
// on-disk .part prefix so the cap covers the final file size.
func TestEnforcer_SeedFileCountsResumePrefix(t *testing.T) {
	e := NewEnforcer(0, 0, 100, nil)
	require.Nil(t, e.StartFile())
	e.SeedFile(70)

	assert.Nil(t, e.RecordBytes(20))
	v := e.RecordBytes(20)
	require.NotNil(t, v)
	assert.Equal(t, LimitBytesPerFile, v.LimitType)
	assert.Equal(t, int64(110), v.Observed)
}

func TestEnforcer_CheckRemaining(t *testing.T) {
	e := NewEnforcer(0, 100, 0, nil)
	assert.Nil(t, e.CheckRemaining())
	e.BytesSeen = 100
	v := e.CheckRemaining()
	require.NotNil(t, v)
	assert.Equal(t, LimitBytesPerTarget, v.LimitType)

	run := NewRunBudget(10)
	require.Nil(t, run.Add(10))
	require.True(t, run.Exhausted())
	e = NewEnforcer(0, 0, 0, run)
	v = e.CheckRemaining()
	require.NotNil(t, v)
	assert.Equal(t, LimitRunByteBudget, v.LimitType)
}
