package util

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashUUID(t *testing.T) {
	type geom struct{ W, H, Levels int }
	a := HashUUID(geom{64, 64, 3})
	b := HashUUID(geom{64, 64, 3})
	c := HashUUID(geom{64, 64, 4})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	id, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(3), id.Version())

	assert.Equal(t, "", HashUUID(make(chan int)))
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
