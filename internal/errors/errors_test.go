package errors

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderCarriesMetadata(t *testing.T) {
	base := fmt.Errorf("open failed")
	err := New(base).
		Component("queue").
		Category(CategoryFileIO).
		Context("path", "/tmp/x.wav").
		Context("attempt", 2).
		Build()

	assert.Equal(t, "open failed", err.Error())
	assert.Equal(t, "queue", err.Component)
	assert.Equal(t, string(CategoryFileIO), err.GetCategory())
	assert.Equal(t, "/tmp/x.wav", err.GetContext()["path"])
	assert.Equal(t, 2, err.GetContext()["attempt"])
	assert.False(t, err.Timestamp.IsZero())
}

func TestDefaultCategoryIsGeneric(t *testing.T) {
	err := Newf("something went sideways").Build()
	assert.Equal(t, string(CategoryGeneric), err.GetCategory())
}

func TestUnwrapReachesOriginal(t *testing.T) {
	_, statErr := os.Stat("/definitely/not/here")
	require.Error(t, statErr)

	err := New(statErr).Component("queue").Category(CategoryFileIO).Build()
	assert.True(t, Is(err, os.ErrNotExist), "wrapped sentinel must remain matchable")
}

func TestIsMatchesByCategory(t *testing.T) {
	a := Newf("first").Category(CategoryClaim).Build()
	b := Newf("second").Category(CategoryClaim).Build()
	c := Newf("third").Category(CategoryLedger).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestGetContextReturnsCopy(t *testing.T) {
	err := Newf("x").Context("k", "v").Build()
	ctx := err.GetContext()
	ctx["k"] = "mutated"
	assert.Equal(t, "v", err.GetContext()["k"])
}

func TestGetContextNil(t *testing.T) {
	err := Newf("x").Build()
	assert.Nil(t, err.GetContext())
}
