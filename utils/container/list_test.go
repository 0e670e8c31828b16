package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/container"
)

type testNode = container.ListNode[int, struct{}]

func TestListInit(t *testing.T) {
	l := &container.List[int, struct{}]{}
	assert.Nil(t, l.First())
	assert.Nil(t, l.Last())
	assert.Nil(t, l.PopFront())
	assert.Equal(t, 0, l.Len())
}

func TestListOperation(t *testing.T) {
	l := &container.List[int, struct{}]{}

	// test: insert

	// ^, 1, ^
	n1 := &testNode{S: 1, Value: 1}
	l.PushBack(n1)
	// ^, 2, 1, ^
	n2 := &testNode{S: 2, Value: 2}
	l.PushFront(n2)
	// ^, 3, 2, 1, ^
	n3 := &testNode{S: 3, Value: 3}
	n2.InsertBefore(n3)
	// ^, 3, 2, 1, 4, ^
	n4 := &testNode{S: 4, Value: 4}
	l.PushBack(n4)
	assert.Equal(t, 4, l.Len())

	// test: first last next

	n := l.First()
	assert.Equal(t, n3, n)
	n = n.Next()
	assert.Equal(t, n2, n)
	n = n.Next()
	assert.Equal(t, n1, n)
	n = n.Next()
	assert.Equal(t, n4, n)
	assert.Nil(t, n.Next())
	assert.Equal(t, n4, l.Last())

	// test: remove merge

	// before: head, 0, 3, 2, 1, 4, tail
	n0 := &testNode{S: 0, Value: 0}
	l.PushFront(n0)
	l.Remove(n2)
	l.Remove(n1)
	assert.Equal(t, 5-2, l.Len())

	// head, 0, 1, 2, 3, 4, tail
	l.Merge([]*testNode{n2, n1})
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, l.Keys())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, l.Values())

	// test: remove

	l.Remove(n4)
	assert.Equal(t, n3, l.Last())
	assert.Equal(t, 5-1, l.Len())
	assert.Panics(t, func() { l.Remove(n4) })
}

func TestListPopUntil(t *testing.T) {
	l := &container.List[int, struct{}]{}
	l.Merge([]*testNode{{S: 5, Value: 1}, {S: 2, Value: 2}, {S: 2, Value: 3}, {S: 9, Value: 4}})
	assert.Equal(t, []int{2, 3, 1, 4}, l.Values())

	popped := l.PopUntil(5)
	assert.Len(t, popped, 3)
	assert.Equal(t, 2, popped[0].Value)
	assert.Equal(t, 1, popped[2].Value)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 4, l.First().Value)

	// 键值相同时新节点排在后面
	l.Merge([]*testNode{{S: 9, Value: 5}})
	assert.Equal(t, []int{4, 5}, l.Values())
}
