package goble

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ----------------------------
// Test doubles
// ----------------------------

type mockDevice struct {
	mock.Mock
	services []*ble.Service
}

func (m *mockDevice) AddService(svc *ble.Service) error {
	m.services = append(m.services, svc)
	return m.Called(svc).Error(0)
}

func (m *mockDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	return m.Called(ctx, name, uuids).Error(0)
}

func (m *mockDevice) Stop() error {
	return m.Called().Error(0)
}

type fakeRequest struct {
	data   []byte
	offset int
}

func (r *fakeRequest) Conn() ble.Conn { return nil }
func (r *fakeRequest) Data() []byte   { return r.data }
func (r *fakeRequest) Offset() int    { return r.offset }

type fakeResponse struct {
	buf    []byte
	cap    int
	status ble.ATTError
}

func (r *fakeResponse) Write(b []byte) (int, error) {
	r.buf = append(r.buf, b...)
	return len(b), nil
}
func (r *fakeResponse) Status() ble.ATTError          { return r.status }
func (r *fakeResponse) SetStatus(status ble.ATTError) { r.status = status }
func (r *fakeResponse) Len() int                      { return len(r.buf) }
func (r *fakeResponse) Cap() int                      { return r.cap }

type fakeNotifier struct {
	ctx context.Context
	mu  sync.Mutex
	out [][]byte
}

func (n *fakeNotifier) Context() context.Context { return n.ctx }
func (n *fakeNotifier) Close() error              { return nil }
func (n *fakeNotifier) Cap() int                  { return 20 }
func (n *fakeNotifier) Write(b []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.out = append(n.out, append([]byte(nil), b...))
	return len(b), nil
}
func (n *fakeNotifier) values() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.out...)
}

// ----------------------------
// Suite
// ----------------------------

type StackTestSuite struct {
	suite.Suite
	dev   *mockDevice
	rt    *gatt.Runtime
	stack *Stack
	table *gatt.ServiceTable
}

func (suite *StackTestSuite) SetupTest() {
	suite.dev = &mockDevice{}
	suite.dev.On("AddService", mock.Anything).Return(nil)
	suite.stack = New(suite.dev, nil)
	suite.rt = gatt.NewRuntime(&gatt.RuntimeOptions{Notifier: suite.stack})
	suite.table = gatt.NewServiceTable("a000", "Button",
		gatt.Descriptor{UUID: "a001", Access: gatt.Readable | gatt.Notifiable, Width: 4, Description: "Button toggles"},
		gatt.Descriptor{UUID: "a002", Access: gatt.Readable | gatt.Writable | gatt.Notifiable, Width: 2},
	)
	suite.Require().NoError(suite.rt.Register(suite.table))
	suite.Require().NoError(suite.stack.RegisterService(suite.table, suite.rt))
}

func (suite *StackTestSuite) characteristic(uuid uint16) *ble.Characteristic {
	suite.Require().Len(suite.dev.services, 1)
	for _, c := range suite.dev.services[0].Characteristics {
		if c.UUID.Equal(ble.UUID16(uuid)) {
			return c
		}
	}
	suite.FailNow("characteristic not found")
	return nil
}

func (suite *StackTestSuite) TestRegisterServiceBuildsHandlers() {
	// GOAL: Verify the go-ble service mirrors the table's access capabilities
	//
	// TEST SCENARIO: Register button table → inspect ble.Service → handlers match access flags
	svc := suite.dev.services[0]
	suite.True(svc.UUID.Equal(ble.UUID16(0xA000)))
	suite.Len(svc.Characteristics, 2)

	state := suite.characteristic(0xA001)
	suite.NotNil(state.ReadHandler)
	suite.Nil(state.WriteHandler, "read-only characteristic MUST NOT get a write handler")
	suite.NotNil(state.NotifyHandler)
	suite.Require().Len(state.Descriptors, 1)
	suite.Equal([]byte("Button toggles"), state.Descriptors[0].Value)

	led := suite.characteristic(0xA002)
	suite.NotNil(led.WriteHandler)
}

func (suite *StackTestSuite) TestReadAndWrite() {
	led := suite.characteristic(0xA002)

	wrsp := &fakeResponse{cap: 20}
	led.WriteHandler.ServeWrite(&fakeRequest{data: []byte{1, 0}}, wrsp)
	suite.Equal(ble.ErrSuccess, wrsp.status)

	rrsp := &fakeResponse{cap: 20}
	led.ReadHandler.ServeRead(&fakeRequest{}, rrsp)
	suite.Equal(ble.ErrSuccess, rrsp.status)
	suite.Equal([]byte{1, 0}, rrsp.buf)
}

func (suite *StackTestSuite) TestAccessErrorsMapToATTStatus() {
	// GOAL: Verify dispatcher errors reach the peer as ATT status codes
	//
	// TEST SCENARIO: Short write → InvalAttrValueLen; read past end → InvalidOffset; prepared write → InvalidOffset
	led := suite.characteristic(0xA002)

	rsp := &fakeResponse{cap: 20}
	led.WriteHandler.ServeWrite(&fakeRequest{data: []byte{1}}, rsp)
	suite.Equal(ble.ErrInvalAttrValueLen, rsp.status)

	rsp = &fakeResponse{cap: 20}
	led.ReadHandler.ServeRead(&fakeRequest{offset: 3}, rsp)
	suite.Equal(ble.ErrInvalidOffset, rsp.status)

	rsp = &fakeResponse{cap: 20}
	led.WriteHandler.ServeWrite(&fakeRequest{data: []byte{1, 0}, offset: 1}, rsp)
	suite.Equal(ble.ErrInvalidOffset, rsp.status)
}

func (suite *StackTestSuite) TestReadTruncatesToCapacity() {
	rsp := &fakeResponse{cap: 3}
	state := suite.characteristic(0xA001)
	suite.Require().NoError(suite.rt.Set(suite.table.Ref("a001"), []byte{1, 2, 3, 4}))

	state.ReadHandler.ServeRead(&fakeRequest{}, rsp)
	suite.Equal([]byte{1, 2, 3}, rsp.buf)

	rsp = &fakeResponse{cap: 3}
	state.ReadHandler.ServeRead(&fakeRequest{offset: 3}, rsp)
	suite.Equal([]byte{4}, rsp.buf, "offset read MUST return the remainder")
}

func (suite *StackTestSuite) TestNotifySubscribedPeer() {
	// GOAL: Verify a set on a Notifiable characteristic reaches a subscribed peer
	//
	// TEST SCENARIO: Subscribe → wait for subscription → Set → notifier receives the value → unsubscribe
	ref := suite.table.Ref("a001")
	ctx, cancel := context.WithCancel(context.Background())
	n := &fakeNotifier{ctx: ctx}

	done := make(chan struct{})
	go func() {
		suite.characteristic(0xA001).NotifyHandler.ServeNotify(&fakeRequest{}, n)
		close(done)
	}()
	suite.Eventually(func() bool { return suite.stack.Subscribers(ref) == 1 }, time.Second, 5*time.Millisecond)

	suite.Require().NoError(suite.rt.Set(ref, []byte{1, 0, 0, 0}))
	suite.Eventually(func() bool { return len(n.values()) == 1 }, time.Second, 5*time.Millisecond)
	suite.Equal([]byte{1, 0, 0, 0}, n.values()[0])

	cancel()
	<-done
	suite.Equal(0, suite.stack.Subscribers(ref), "subscription MUST be removed after unsubscribe")
}

func (suite *StackTestSuite) TestLatestPeerOnly() {
	// GOAL: Verify LatestPeerOnly notifies only the newest subscriber
	//
	// TEST SCENARIO: Two subscriptions → Set → only the second one receives the value
	suite.stack.opts.LatestPeerOnly = true
	ref := suite.table.Ref("a001")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &fakeNotifier{ctx: ctx}
	second := &fakeNotifier{ctx: ctx}
	h := suite.characteristic(0xA001).NotifyHandler

	go h.ServeNotify(&fakeRequest{}, first)
	suite.Eventually(func() bool { return suite.stack.Subscribers(ref) == 1 }, time.Second, 5*time.Millisecond)
	go h.ServeNotify(&fakeRequest{}, second)
	suite.Eventually(func() bool { return suite.stack.Subscribers(ref) == 2 }, time.Second, 5*time.Millisecond)

	suite.Require().NoError(suite.rt.Set(ref, []byte{7, 0, 0, 0}))
	suite.Eventually(func() bool { return len(second.values()) == 1 }, time.Second, 5*time.Millisecond)
	suite.Empty(first.values(), "older subscriber MUST NOT be notified")
}

func (suite *StackTestSuite) TestAdvertiseAndClose() {
	ctx := context.Background()
	suite.dev.On("AdvertiseNameAndServices", ctx, "blesvc", mock.Anything).Return(nil)
	suite.dev.On("Stop").Return(nil).Once()

	suite.NoError(suite.stack.Advertise(ctx, "blesvc"))
	uuids := suite.dev.Calls[len(suite.dev.Calls)-1].Arguments.Get(2).([]ble.UUID)
	suite.Require().Len(uuids, 1)
	suite.True(uuids[0].Equal(ble.UUID16(0xA000)))

	suite.NoError(suite.stack.Close())
	suite.NoError(suite.stack.Close(), "second Close MUST be a no-op")
	suite.dev.AssertExpectations(suite.T())

	suite.Error(suite.stack.RegisterService(gatt.NewServiceTable("180f", ""), suite.rt))
}

func TestStackTestSuite(t *testing.T) {
	suite.Run(t, new(StackTestSuite))
}

func TestOpenUsesDeviceFactory(t *testing.T) {
	original := DeviceFactory
	defer func() { DeviceFactory = original }()

	dev := &mockDevice{}
	DeviceFactory = func() (Device, error) { return dev, nil }

	s, err := Open(nil)
	require.NoError(t, err)
	require.Same(t, dev, s.dev)
}
