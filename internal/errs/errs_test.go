package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsSurviveWrapping(t *testing.T) {
	t.Parallel()

	base := New("redis: connection refused")
	err := Scheduling(base, "upsert reminder")
	err = Wrap(err, "on task updated")
	err = fmt.Errorf("handler: %w", err)

	assert.True(t, IsScheduling(err))
	assert.False(t, IsDelivery(err))
	assert.True(t, Is(err, base))
	assert.Contains(t, err.Error(), "upsert reminder")
}

func TestKindConstructorsKeepNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Scheduling(nil, "x"))
	assert.NoError(t, Delivery(nil, "x"))
	assert.NoError(t, Submission(nil, "x"))
	assert.False(t, IsScheduling(nil))
}

func TestInputCarriesHint(t *testing.T) {
	t.Parallel()

	err := Input("unparseable deadline", "use DD.MM.YYYY")
	require.Error(t, err)
	assert.True(t, IsInput(err))
	assert.Equal(t, "use DD.MM.YYYY", Hint(err))
	assert.Equal(t, "", Hint(New("plain")))
}

func TestStateAndNotFound(t *testing.T) {
	t.Parallel()

	st := State("step %s", "title")
	assert.True(t, IsState(st))
	assert.Equal(t, "step title", st.Error())

	nf := NotFound("task %q", "t1")
	assert.True(t, IsNotFound(nf))
	assert.False(t, IsState(nf))
}
