package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ValidateDAGAcceptsLinearChain(t *testing.T) {
	tasks := []*Task{
		NewTask(0, "a", "svc", nil, NoTimeout, nil, nil),
		NewTask(1, "b", "svc", []uint32{0}, NoTimeout, nil, nil),
		NewTask(2, "c", "svc", []uint32{1}, NoTimeout, nil, nil),
	}
	order, err := validateDAG(tasks)
	assert.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, order)
}

func Test_ValidateDAGRejectsCycle(t *testing.T) {
	tasks := []*Task{
		NewTask(0, "a", "svc", []uint32{1}, NoTimeout, nil, nil),
		NewTask(1, "b", "svc", []uint32{0}, NoTimeout, nil, nil),
	}
	_, err := validateDAG(tasks)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func Test_ValidateDAGRejectsUnknownDependency(t *testing.T) {
	tasks := []*Task{
		NewTask(0, "a", "svc", []uint32{99}, NoTimeout, nil, nil),
	}
	_, err := validateDAG(tasks)
	assert.Error(t, err)
}
