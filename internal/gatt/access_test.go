package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccess_String(t *testing.T) {
	assert.Equal(t, "read,write,notify", (Readable | Writable | Notifiable).String())
	assert.Equal(t, "read", Readable.String())
	assert.Equal(t, "", Access(0).String())
	assert.False(t, Readable.Has(0))
}

func TestRef(t *testing.T) {
	ref := NewRef("0000180F-0000-1000-8000-00805F9B34FB", "0x2A19")
	assert.Equal(t, Ref{Service: "180f", Char: "2a19"}, ref)
	assert.Equal(t, "180f/2a19", ref.String())
}

func TestParseNotifyPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want NotifyPolicy
	}{
		{"", NotifyDefault},
		{"always", NotifyAlways},
		{"on_change", NotifyOnChange},
		{"on-change", NotifyOnChange},
	}
	for _, tt := range tests {
		got, err := ParseNotifyPolicy(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseNotifyPolicy("sometimes")
	assert.Error(t, err)
}

func TestError_Message(t *testing.T) {
	err := newError(KindInvalidLength, NewRef("180f", "2a19"), "got %d bytes", 3)
	assert.Equal(t, "180f/2a19 invalid length: got 3 bytes", err.Error())
	assert.ErrorIs(t, err, ErrInvalidLength)
	assert.NotErrorIs(t, err, ErrNotWritable)
	assert.True(t, IsKind(err, KindInvalidLength))
}
