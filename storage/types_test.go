package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTags_Add(t *testing.T) {
	tags := Tags{"a", "b"}.Add("b", "c", "", "a")
	assert.Equal(t, Tags{"a", "b", "c"}, tags)

	var empty Tags
	assert.Equal(t, Tags{"x"}, empty.Add("x", "x"))
}

func TestTags_Remove(t *testing.T) {
	tags := Tags{"a", "b", "c", "d"}.Remove("b", "missing", "d")
	assert.Equal(t, Tags{"a", "c"}, tags)
}

func TestTags_AddDoesNotMutate(t *testing.T) {
	orig := Tags{"a"}
	_ = orig.Add("b")
	_ = orig.Remove("a")
	assert.Equal(t, Tags{"a"}, orig)
}

func TestTags_ValueAndScan(t *testing.T) {
	v, err := Tags{"a", "b"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	v, err = Tags(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var tags Tags
	require.NoError(t, tags.Scan([]byte(`["x"]`)))
	assert.Equal(t, Tags{"x"}, tags)

	require.NoError(t, tags.Scan(nil))
	assert.Nil(t, tags)

	assert.Error(t, tags.Scan(12))
}

func TestJSONMap_ValueAndScan(t *testing.T) {
	v, err := JSONMap{"id": 7}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"id":7}`, v)

	v, err = JSONMap{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var m JSONMap
	require.NoError(t, m.Scan(`{"a":"b"}`))
	assert.Equal(t, "b", m["a"])

	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	assert.Error(t, m.Scan("not json"))
}
