package container

import "container/heap"

// heapSlice 实现heap.Interface，顺序由less决定
type heapSlice[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h *heapSlice[T]) Len() int           { return len(h.items) }
func (h *heapSlice[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *heapSlice[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *heapSlice[T]) Push(x any) {
	h.items = append(h.items, x.(T))
}

func (h *heapSlice[T]) Pop() any {
	n := len(h.items)
	var zero T
	item := h.items[n-1]
	h.items[n-1] = zero // 避免内存泄漏
	h.items = h.items[:n-1]
	return item
}

// PriorityQueue 优先队列
// 功能：按less给出的顺序弹出元素，less(a, b)为true时a先于b弹出
// 说明：调度器用它按排队长度决定路口的处理顺序
type PriorityQueue[T any] struct {
	h heapSlice[T]
}

// NewPriorityQueue 创建优先队列
// 参数：less-顺序函数，items-初始元素（O(n)建堆）
func NewPriorityQueue[T any](less func(a, b T) bool, items ...T) *PriorityQueue[T] {
	q := &PriorityQueue[T]{h: heapSlice[T]{items: items, less: less}}
	heap.Init(&q.h)
	return q
}

// Len 队列长度
func (q *PriorityQueue[T]) Len() int {
	return q.h.Len()
}

// Peek 查看队首元素，不移除
func (q *PriorityQueue[T]) Peek() T {
	return q.h.items[0]
}

// Push 加入元素
func (q *PriorityQueue[T]) Push(value T) {
	heap.Push(&q.h, value)
}

// Pop 弹出队首元素
func (q *PriorityQueue[T]) Pop() T {
	return heap.Pop(&q.h).(T)
}
