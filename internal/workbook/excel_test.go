package workbook

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sead-project/clearinghouse-import/internal/schema"
)

func TestCoerceHonorsSchemaType(t *testing.T) {
	v := coerce("42", schema.TypeInteger)
	i, ok := v.Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(42), i)

	v = coerce("3.14", schema.TypeNumeric)
	f, ok := v.Float64()
	assert.True(t, ok)
	assert.InDelta(t, 3.14, f, 0.0001)

	v = coerce("true", schema.TypeBoolean)
	b, ok := v.Bool()
	assert.True(t, ok)
	assert.True(t, b)

	assert.True(t, coerce("", schema.TypeText).IsNull())
}

func TestCoerceGuessesWithoutSchemaType(t *testing.T) {
	v := coerce("123", "")
	_, ok := v.Int64()
	assert.True(t, ok)

	v = coerce("hello", "")
	assert.Equal(t, "hello", v.Str())
}
