package gatt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyChanged(ref Ref, value []byte) {
	m.Called(ref, value)
}

// RuntimeTestSuite exercises access dispatch and the notification hand-off.
type RuntimeTestSuite struct {
	suite.Suite
	notifier *mockNotifier
	rt       *Runtime

	level  Ref
	led    Ref
	name   Ref
	secret Ref

	observed [][]byte
	observer error
}

func (suite *RuntimeTestSuite) SetupTest() {
	suite.notifier = &mockNotifier{}
	suite.observed = nil
	suite.observer = nil
	suite.rt = NewRuntime(&RuntimeOptions{Notifier: suite.notifier})

	suite.Require().NoError(suite.rt.Register(NewServiceTable("180f", "",
		Descriptor{UUID: "2a19", Access: Readable | Notifiable, Width: 2},
	)))
	suite.Require().NoError(suite.rt.Register(NewServiceTable("a000", "",
		Descriptor{
			UUID:   "a002",
			Access: Readable | Writable | Notifiable,
			Width:  2,
			Validate: func(b []byte) error {
				if b[0] > 1 {
					return Rejected("level %d", b[0])
				}
				return nil
			},
			OnWrite: func(b []byte) error {
				suite.observed = append(suite.observed, b)
				return suite.observer
			},
		},
		Descriptor{UUID: "2a00", Access: Readable | Writable, MinLen: 1, MaxLen: 8},
		Descriptor{UUID: "a0ff", Access: Writable, Width: 1},
	)))

	suite.level = NewRef("180f", "2a19")
	suite.led = NewRef("a000", "a002")
	suite.name = NewRef("a000", "2a00")
	suite.secret = NewRef("a000", "a0ff")
}

func (suite *RuntimeTestSuite) TestReadReturnsCopy() {
	suite.notifier.On("NotifyChanged", suite.level, []byte{100, 0}).Once()
	suite.Require().NoError(suite.rt.Set(suite.level, []byte{100, 0}))

	got, err := suite.rt.HandleAccess(suite.level, OpRead, nil)
	suite.Require().NoError(err)
	suite.Equal([]byte{100, 0}, got)

	got[0] = 1
	again, _ := suite.rt.Get(suite.level)
	suite.Equal([]byte{100, 0}, again, "read result MUST be a copy")
	suite.notifier.AssertExpectations(suite.T())
}

func (suite *RuntimeTestSuite) TestAccessPolicy() {
	// GOAL: Verify every per-access error kind
	//
	// TEST SCENARIO: unknown ref, read of write-only, write of read-only, bad length, unknown op
	_, err := suite.rt.HandleAccess(NewRef("180f", "ffff"), OpRead, nil)
	suite.ErrorIs(err, ErrUnknownCharacteristic)

	_, err = suite.rt.HandleAccess(suite.secret, OpRead, nil)
	suite.ErrorIs(err, ErrNotReadable)

	_, err = suite.rt.HandleAccess(suite.level, OpWrite, []byte{1, 0})
	suite.ErrorIs(err, ErrNotWritable)

	_, err = suite.rt.HandleAccess(suite.name, OpWrite, nil)
	suite.ErrorIs(err, ErrInvalidLength)
	_, err = suite.rt.HandleAccess(suite.name, OpWrite, make([]byte, 9))
	suite.ErrorIs(err, ErrInvalidLength)

	_, err = suite.rt.HandleAccess(suite.level, Operation(7), nil)
	suite.ErrorIs(err, ErrRejected)

	var gerr *Error
	suite.Require().True(errors.As(err, &gerr))
	suite.Equal(suite.level, gerr.Ref, "access errors MUST carry the ref")
	suite.notifier.AssertNotCalled(suite.T(), "NotifyChanged", mock.Anything, mock.Anything)
}

func (suite *RuntimeTestSuite) TestWriteCommitsObservesAndNotifies() {
	// GOAL: Verify a valid write commits, then runs the observer, then notifies
	//
	// TEST SCENARIO: Write [1,0] to LED → observer sees [1,0] → one notification → read [1,0]
	suite.notifier.On("NotifyChanged", suite.led, []byte{1, 0}).Once()

	_, err := suite.rt.HandleAccess(suite.led, OpWrite, []byte{1, 0})
	suite.Require().NoError(err)
	suite.Equal([][]byte{{1, 0}}, suite.observed)

	got, _ := suite.rt.Get(suite.led)
	suite.Equal([]byte{1, 0}, got)
	suite.notifier.AssertExpectations(suite.T())
}

func (suite *RuntimeTestSuite) TestWriteInvalidLengthLeavesCell() {
	_, err := suite.rt.HandleAccess(suite.led, OpWrite, []byte{1, 0, 0})
	suite.ErrorIs(err, ErrInvalidLength)

	got, _ := suite.rt.Get(suite.led)
	suite.Equal([]byte{0, 0}, got)
	suite.Empty(suite.observed)
	suite.notifier.AssertNotCalled(suite.T(), "NotifyChanged", mock.Anything, mock.Anything)
}

func (suite *RuntimeTestSuite) TestWriteRejectedByValidator() {
	_, err := suite.rt.HandleAccess(suite.led, OpWrite, []byte{5, 0})
	suite.ErrorIs(err, ErrRejected)

	got, _ := suite.rt.Get(suite.led)
	suite.Equal([]byte{0, 0}, got, "rejected write MUST leave the cell unchanged")
	suite.Empty(suite.observed)
}

func (suite *RuntimeTestSuite) TestObserverFailureAfterCommit() {
	suite.observer = errors.New("pin stuck")
	suite.notifier.On("NotifyChanged", suite.led, []byte{1, 0}).Once()

	_, err := suite.rt.HandleAccess(suite.led, OpWrite, []byte{1, 0})
	suite.ErrorIs(err, ErrHardwareFault)
	suite.ErrorContains(err, "pin stuck")

	got, _ := suite.rt.Get(suite.led)
	suite.Equal([]byte{1, 0}, got, "observer failure MUST NOT roll back the commit")
	suite.notifier.AssertExpectations(suite.T())
}

func (suite *RuntimeTestSuite) TestVariableLengthWrite() {
	_, err := suite.rt.HandleAccess(suite.name, OpWrite, []byte("blesvc"))
	suite.Require().NoError(err)

	got, err := suite.rt.HandleAccess(suite.name, OpRead, nil)
	suite.Require().NoError(err)
	suite.Equal([]byte("blesvc"), got)
	suite.notifier.AssertNotCalled(suite.T(), "NotifyChanged", mock.Anything, mock.Anything)
}

func (suite *RuntimeTestSuite) TestSetAlwaysNotifies() {
	// GOAL: Verify the default policy notifies once per successful set, even when unchanged
	//
	// TEST SCENARIO: Set [50,0] twice → two notifications
	suite.notifier.On("NotifyChanged", suite.level, []byte{50, 0}).Twice()

	suite.Require().NoError(suite.rt.Set(suite.level, []byte{50, 0}))
	suite.Require().NoError(suite.rt.Set(suite.level, []byte{50, 0}))
	suite.notifier.AssertExpectations(suite.T())
}

func (suite *RuntimeTestSuite) TestSetWidthMismatch() {
	err := suite.rt.Set(suite.level, []byte{1})
	suite.ErrorIs(err, ErrWidthMismatch)
	suite.notifier.AssertNotCalled(suite.T(), "NotifyChanged", mock.Anything, mock.Anything)

	suite.ErrorIs(suite.rt.Set(NewRef("ffff", "ffff"), []byte{1}), ErrUnknownCharacteristic)
	_, err = suite.rt.Get(NewRef("ffff", "ffff"))
	suite.ErrorIs(err, ErrUnknownCharacteristic)
}

func TestRuntimeTestSuite(t *testing.T) {
	suite.Run(t, new(RuntimeTestSuite))
}

func TestRuntime_OnChangePolicy(t *testing.T) {
	notifier := &mockNotifier{}
	rt := NewRuntime(&RuntimeOptions{Policy: NotifyOnChange, Notifier: notifier})
	if err := rt.Register(NewServiceTable("180f", "", Descriptor{UUID: "2a19", Access: Readable | Notifiable, Width: 2})); err != nil {
		t.Fatal(err)
	}
	ref := NewRef("180f", "2a19")
	notifier.On("NotifyChanged", ref, []byte{1, 0}).Once()

	_ = rt.Set(ref, []byte{1, 0})
	_ = rt.Set(ref, []byte{1, 0})
	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "NotifyChanged", 1)
}

func TestRuntime_DescriptorPolicyOverrides(t *testing.T) {
	var calls int
	rt := NewRuntime(&RuntimeOptions{
		Policy:   NotifyOnChange,
		Notifier: NotifierFunc(func(Ref, []byte) { calls++ }),
	})
	err := rt.Register(NewServiceTable("180f", "",
		Descriptor{UUID: "2a19", Access: Readable | Notifiable, Width: 2, Notify: NotifyAlways},
	))
	if err != nil {
		t.Fatal(err)
	}

	ref := NewRef("180f", "2a19")
	_ = rt.Set(ref, []byte{1, 0})
	_ = rt.Set(ref, []byte{1, 0})
	if calls != 2 {
		t.Fatalf("descriptor policy MUST override runtime policy: got %d notifications", calls)
	}
}

func TestRuntime_NoNotifier(t *testing.T) {
	rt := NewRuntime(nil)
	if rt.Policy() != NotifyAlways {
		t.Fatalf("default policy MUST be always, got %s", rt.Policy())
	}
	if err := rt.Register(NewServiceTable("180f", "", Descriptor{UUID: "2a19", Access: Readable | Notifiable, Width: 2})); err != nil {
		t.Fatal(err)
	}
	if err := rt.Set(NewRef("180f", "2a19"), []byte{1, 0}); err != nil {
		t.Fatal(err)
	}

	var got []byte
	rt.SetNotifier(NotifierFunc(func(_ Ref, v []byte) { got = v }))
	_ = rt.Set(NewRef("180f", "2a19"), []byte{2, 0})
	if len(got) != 2 || got[0] != 2 {
		t.Fatalf("notifier installed later MUST receive sets: %v", got)
	}
}

func TestRuntime_OnReadRefreshesCell(t *testing.T) {
	// GOAL: Verify a read hook supplies the value on every peer read
	//
	// TEST SCENARIO: Hook returns "a" then "bc" → each read sees the hook value and stores it →
	// failing hook → HardwareFault, cell keeps the last good value
	values := []string{"a", "bc"}
	var hookErr error
	rt := NewRuntime(nil)
	require.NoError(t, rt.Register(NewServiceTable("180a", "", Descriptor{
		UUID:   "2a25",
		Access: Readable,
		MaxLen: 4,
		OnRead: func() ([]byte, error) {
			if hookErr != nil {
				return nil, hookErr
			}
			v := values[0]
			values = values[1:]
			return []byte(v), nil
		},
	})))
	ref := NewRef("180a", "2a25")

	for _, want := range []string{"a", "bc"} {
		got, err := rt.HandleAccess(ref, OpRead, nil)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
		stored, _ := rt.Get(ref)
		assert.Equal(t, want, string(stored), "read value MUST be stored in the cell")
	}

	hookErr = errors.New("store offline")
	_, err := rt.HandleAccess(ref, OpRead, nil)
	assert.ErrorIs(t, err, ErrHardwareFault)
	stored, _ := rt.Get(ref)
	assert.Equal(t, "bc", string(stored))
}
