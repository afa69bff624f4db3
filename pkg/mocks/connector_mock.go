package mocks

import (
	"context"

	"github.com/dukex/stepflow/pkg/connectors/remotetool"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockConnector is a mock implementation of protocol.Connector.
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Execute(
	ctx context.Context,
	node *models.StepNode,
	input map[string]any,
	rctx *models.RuntimeContext,
) (map[string]any, error) {
	args := m.Called(ctx, node, input, rctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

// Step matches a node argument by id.
func Step(id string) any {
	return mock.MatchedBy(func(node *models.StepNode) bool {
		return node != nil && node.ID == id
	})
}

// MockActionClient is a mock implementation of remotetool.ActionClient.
type MockActionClient struct {
	mock.Mock
}

func (m *MockActionClient) ExecuteAction(ctx context.Context, req remotetool.ActionRequest) (map[string]any, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}
