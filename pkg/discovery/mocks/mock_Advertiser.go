// Package mocks holds testify mocks for the discovery interfaces, laid out
// like mockery's expecter mocks.
package mocks

import (
	context "context"

	discovery "github.com/vip2p-protocol/vip2p-go/pkg/discovery"
	mock "github.com/stretchr/testify/mock"
)

// MockAdvertiser is a mock type for the Advertiser type
type MockAdvertiser struct {
	mock.Mock
}

type MockAdvertiser_Expecter struct {
	mock *mock.Mock
}

func (_m *MockAdvertiser) EXPECT() *MockAdvertiser_Expecter {
	return &MockAdvertiser_Expecter{mock: &_m.Mock}
}

// Advertise provides a mock function with given fields: ctx, info
func (_m *MockAdvertiser) Advertise(ctx context.Context, info *discovery.ServerInfo) error {
	ret := _m.Called(ctx, info)

	if len(ret) == 0 {
		panic("no return value specified for Advertise")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *discovery.ServerInfo) error); ok {
		r0 = rf(ctx, info)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// MockAdvertiser_Advertise_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Advertise'
type MockAdvertiser_Advertise_Call struct {
	*mock.Call
}

// Advertise is a helper method to define mock.On call
//   - ctx context.Context
//   - info *discovery.ServerInfo
func (_e *MockAdvertiser_Expecter) Advertise(ctx interface{}, info interface{}) *MockAdvertiser_Advertise_Call {
	return &MockAdvertiser_Advertise_Call{Call: _e.mock.On("Advertise", ctx, info)}
}

func (_c *MockAdvertiser_Advertise_Call) Run(run func(ctx context.Context, info *discovery.ServerInfo)) *MockAdvertiser_Advertise_Call {
	_c.Call.Run(func(args mock.Arguments) {
		run(args[0].(context.Context), args[1].(*discovery.ServerInfo))
	})
	return _c
}

func (_c *MockAdvertiser_Advertise_Call) Return(_a0 error) *MockAdvertiser_Advertise_Call {
	_c.Call.Return(_a0)
	return _c
}

func (_c *MockAdvertiser_Advertise_Call) RunAndReturn(run func(context.Context, *discovery.ServerInfo) error) *MockAdvertiser_Advertise_Call {
	_c.Call.Return(run)
	return _c
}

// StopAll provides a mock function with no fields
func (_m *MockAdvertiser) StopAll() {
	_m.Called()
}

// MockAdvertiser_StopAll_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'StopAll'
type MockAdvertiser_StopAll_Call struct {
	*mock.Call
}

// StopAll is a helper method to define mock.On call
func (_e *MockAdvertiser_Expecter) StopAll() *MockAdvertiser_StopAll_Call {
	return &MockAdvertiser_StopAll_Call{Call: _e.mock.On("StopAll")}
}

func (_c *MockAdvertiser_StopAll_Call) Run(run func()) *MockAdvertiser_StopAll_Call {
	_c.Call.Run(func(args mock.Arguments) {
		run()
	})
	return _c
}

func (_c *MockAdvertiser_StopAll_Call) Return() *MockAdvertiser_StopAll_Call {
	_c.Call.Return()
	return _c
}

func (_c *MockAdvertiser_StopAll_Call) RunAndReturn(run func()) *MockAdvertiser_StopAll_Call {
	_c.Run(run)
	return _c
}

// Update provides a mock function with given fields: info
func (_m *MockAdvertiser) Update(info *discovery.ServerInfo) error {
	ret := _m.Called(info)

	if len(ret) == 0 {
		panic("no return value specified for Update")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(*discovery.ServerInfo) error); ok {
		r0 = rf(info)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// MockAdvertiser_Update_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Update'
type MockAdvertiser_Update_Call struct {
	*mock.Call
}

// Update is a helper method to define mock.On call
//   - info *discovery.ServerInfo
func (_e *MockAdvertiser_Expecter) Update(info interface{}) *MockAdvertiser_Update_Call {
	return &MockAdvertiser_Update_Call{Call: _e.mock.On("Update", info)}
}

func (_c *MockAdvertiser_Update_Call) Run(run func(info *discovery.ServerInfo)) *MockAdvertiser_Update_Call {
	_c.Call.Run(func(args mock.Arguments) {
		run(args[0].(*discovery.ServerInfo))
	})
	return _c
}

func (_c *MockAdvertiser_Update_Call) Return(_a0 error) *MockAdvertiser_Update_Call {
	_c.Call.Return(_a0)
	return _c
}

func (_c *MockAdvertiser_Update_Call) RunAndReturn(run func(*discovery.ServerInfo) error) *MockAdvertiser_Update_Call {
	_c.Call.Return(run)
	return _c
}

// NewMockAdvertiser creates a new instance of MockAdvertiser. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockAdvertiser(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAdvertiser {
	mock := &MockAdvertiser{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
