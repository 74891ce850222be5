package host

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ble.ATTError
	}{
		{"nil", nil, ble.ErrSuccess},
		{"unknown", gatt.ErrUnknownCharacteristic, ble.ErrAttrNotFound},
		{"not readable", gatt.ErrNotReadable, ble.ErrReadNotPerm},
		{"not writable", gatt.ErrNotWritable, ble.ErrWriteNotPerm},
		{"invalid length", gatt.ErrInvalidLength, ble.ErrInvalAttrValueLen},
		{"rejected", gatt.ErrRejected, ble.ErrUnlikely},
		{"hardware fault", gatt.HardwareFault(errors.New("adc")), ble.ErrUnlikely},
		{"width mismatch", gatt.ErrWidthMismatch, ble.ErrUnlikely},
		{"too large", fmt.Errorf("%w: 40 > 22", ErrResponseTooLarge), ble.ErrInsuffResources},
		{"offset", ErrInvalidOffset, ble.ErrInvalidOffset},
		{"wrapped unknown", fmt.Errorf("access: %w", gatt.ErrUnknownCharacteristic), ble.ErrAttrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func newSimRuntime(t *testing.T) (*gatt.Runtime, *SimStack, *gatt.ServiceTable) {
	t.Helper()

	stack := NewSimStack(4, nil)
	rt := gatt.NewRuntime(&gatt.RuntimeOptions{Notifier: stack})
	table := gatt.NewServiceTable("180f", "Battery",
		gatt.Descriptor{UUID: "2a19", Access: gatt.Readable | gatt.Notifiable, Width: 2},
	)
	require.NoError(t, rt.Register(table))
	require.NoError(t, stack.RegisterService(table, rt))
	return rt, stack, table
}

func TestSimStack_AccessRoutesToRuntime(t *testing.T) {
	// GOAL: Verify simulated peer accesses reach the runtime and its access policy
	//
	// TEST SCENARIO: Register battery table → read → write → expect value then NotWritable
	rt, stack, table := newSimRuntime(t)
	ref := table.Ref("2a19")

	require.NoError(t, rt.Set(ref, []byte{42, 0}))

	got, err := stack.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte{42, 0}, got)

	err = stack.Write(ref, []byte{1, 0})
	assert.ErrorIs(t, err, gatt.ErrNotWritable)

	_, err = stack.Read(gatt.NewRef("1234", "2a19"))
	assert.ErrorIs(t, err, gatt.ErrUnknownCharacteristic)
}

func TestSimStack_DuplicateRegistration(t *testing.T) {
	_, stack, table := newSimRuntime(t)
	assert.Error(t, stack.RegisterService(table, nil), "second registration of the same service MUST fail")
}

func TestSimStack_TraceOverwritesOldest(t *testing.T) {
	// GOAL: Verify the notification trace never blocks and keeps the newest entries
	//
	// TEST SCENARIO: Trace of 4 → 6 sets → drain → last entries retained in order, trace empty after
	rt, stack, table := newSimRuntime(t)
	ref := table.Ref("2a19")

	for i := byte(1); i <= 6; i++ {
		require.NoError(t, rt.Set(ref, []byte{i, 0}))
	}

	got := stack.Drain()
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 6)
	assert.Equal(t, []byte{6, 0}, got[len(got)-1].Value, "newest notification MUST be retained")
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Value[0], got[i].Value[0], "trace MUST be oldest first")
	}
	assert.Empty(t, stack.Drain())
}

func TestSimStack_Advertise(t *testing.T) {
	_, stack, _ := newSimRuntime(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stack.Advertise(ctx, "blesvc") }()

	assert.Eventually(t, func() bool {
		on, name := stack.Advertising()
		return on && name == "blesvc"
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Advertise MUST return when the context is canceled")
	}

	on, _ := stack.Advertising()
	assert.False(t, on)
}

func TestServiceUUIDs(t *testing.T) {
	tables := []*gatt.ServiceTable{
		gatt.NewServiceTable("180f", "Battery"),
		gatt.NewServiceTable("a000", "Button"),
		{UUID: "0000180A-0000-1000-8000-00805F9B34FB", Name: "Device Information"},
	}
	assert.Equal(t, []string{"180f", "a000", "180a"}, ServiceUUIDs(tables),
		"advertised UUIDs MUST be normalized even for hand-built tables")
}
