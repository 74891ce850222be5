package gatt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueCell_FixedWidth(t *testing.T) {
	c := newValueCell(&Descriptor{Width: 2})
	assert.Equal(t, []byte{0, 0}, c.Bytes())

	changed, err := c.Set([]byte{1, 2})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.Set([]byte{1, 2})
	require.NoError(t, err)
	assert.False(t, changed, "identical bytes MUST NOT report a change")

	_, err = c.Set([]byte{1})
	assert.ErrorIs(t, err, ErrWidthMismatch)
	assert.Equal(t, []byte{1, 2}, c.Bytes(), "failed set MUST leave the value unchanged")
}

func TestValueCell_Variable(t *testing.T) {
	c := newValueCell(&Descriptor{MinLen: 0, MaxLen: 4})
	assert.Equal(t, 0, c.Len())

	_, err := c.Set([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), c.Bytes())

	_, err = c.Set([]byte("abcde"))
	assert.ErrorIs(t, err, ErrWidthMismatch)
	assert.True(t, c.Fits(0))
	assert.False(t, c.Fits(5))
}

func TestValueCell_BytesIsCopy(t *testing.T) {
	c := newValueCell(&Descriptor{Width: 1, Initial: []byte{7}})
	b := c.Bytes()
	b[0] = 0
	assert.Equal(t, []byte{7}, c.Bytes())
}

func TestValueCell_ConcurrentAccess(t *testing.T) {
	c := newValueCell(&Descriptor{Width: 2})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v byte) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = c.Set([]byte{v, v})
			}
		}(byte(i))
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := c.Bytes()
				assert.Equal(t, b[0], b[1], "reads MUST never observe a torn value")
			}
		}()
	}
	wg.Wait()
}
