// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/undefined996/page-agent/internal/agent"
)

// -- Page Controller Mock --

// MockPageController mocks the agent.PageController interface.
type MockPageController struct {
	mock.Mock
}

func (m *MockPageController) BrowserState(ctx context.Context) (*agent.BrowserState, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(*agent.BrowserState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPageController) ClickElement(ctx context.Context, index int) (string, error) {
	args := m.Called(ctx, index)
	return args.String(0), args.Error(1)
}

func (m *MockPageController) InputText(ctx context.Context, index int, text string) (string, error) {
	args := m.Called(ctx, index, text)
	return args.String(0), args.Error(1)
}

func (m *MockPageController) SelectOption(ctx context.Context, index int, optionText string) (string, error) {
	args := m.Called(ctx, index, optionText)
	return args.String(0), args.Error(1)
}

func (m *MockPageController) Scroll(ctx context.Context, opts agent.ScrollOptions) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockPageController) ScrollHorizontally(ctx context.Context, opts agent.ScrollOptions) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockPageController) ExecuteJavascript(ctx context.Context, script string) (string, error) {
	args := m.Called(ctx, script)
	return args.String(0), args.Error(1)
}

func (m *MockPageController) CleanUp(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- User Interface Mock --

// MockUserInterface mocks the agent.UserInterface interface.
type MockUserInterface struct {
	mock.Mock
}

func (m *MockUserInterface) AskUser(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}

func (m *MockUserInterface) Done(ctx context.Context, success bool) {
	m.Called(ctx, success)
}

var (
	_ agent.PageController = (*MockPageController)(nil)
	_ agent.UserInterface  = (*MockUserInterface)(nil)
)
