package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTracker_StartGet(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	st, data := tr.Get("u1")
	assert.Equal(t, StateNormal, st.Kind)
	assert.Nil(t, data)

	tr.Start("u1", "猫娘", map[string]string{"note": "x"})
	st, data = tr.Get("u1")
	assert.Equal(t, StateActive, st.Kind)
	assert.Equal(t, "猫娘", st.Persona)
	assert.Equal(t, map[string]string{"note": "x"}, data)
}

func TestTracker_StartOverwrites(t *testing.T) {
	tr := NewTracker(nil)
	tr.Start("u1", "猫娘", nil)
	tr.Start("u1", "狗狗", nil)

	st, _ := tr.Get("u1")
	assert.Equal(t, "狗狗", st.Persona)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestTracker_EndIdempotent(t *testing.T) {
	tr := NewTracker(nil)
	tr.End("u1")

	tr.Start("u1", "猫娘", nil)
	tr.End("u1")
	tr.End("u1")

	st, data := tr.Get("u1")
	assert.Equal(t, StateNormal, st.Kind)
	assert.Nil(t, data)
	assert.Zero(t, tr.ActiveCount())
}

func TestTracker_UsersIndependent(t *testing.T) {
	tr := NewTracker(nil)
	tr.Start("u1", "猫娘", nil)

	st, _ := tr.Get("u2")
	assert.Equal(t, StateNormal, st.Kind)
}
