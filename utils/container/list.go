package container

import (
	"fmt"
	"log"
	"slices"
)

// ListNode 双向链表中的节点
// 功能：表示按键值排序的双向链表中的一个节点
// 说明：S为排序键（本地仿真中为车辆到达停车线或进入排队的时间）
type ListNode[T any, E any] struct {
	parent     *List[T, E]     // 所属链表
	prev, next *ListNode[T, E] // 前驱和后继节点
	S          float64         // 键值
	Value      T               // 主要值
	Extra      E               // 额外信息
}

func (n *ListNode[T, E]) String() string {
	return fmt.Sprintf("Node{Key:%v, Value:%+v, Extra:%+v}", n.S, n.Value, n.Extra)
}

// Next 获取节点的下一个节点
func (n *ListNode[T, E]) Next() *ListNode[T, E] {
	return n.next
}

// InsertBefore 在节点前插入新节点
// 参数：add-要插入的新节点，不能已在其他链表中
func (n *ListNode[T, E]) InsertBefore(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("insert node who already in list")
	}
	add.parent = n.parent
	add.next = n
	add.prev = n.prev
	n.prev = add
	if add.prev != nil {
		add.prev.next = add
	} else {
		add.parent.head = add
	}
	n.parent.length++
}

// List 双向链表
// 功能：按键值升序维护元素的双向链表，头部为最早的元素
// 说明：本地仿真用它保存在途车辆（按到达停车线时间）和排队车辆（按进入排队时间）
type List[T any, E any] struct {
	ID         string          // 链表标识符
	head, tail *ListNode[T, E] // 头尾节点指针
	length     int             // 链表长度
}

func (l *List[T, E]) String() string {
	return fmt.Sprintf("List{ID:%v, Len:%v}", l.ID, l.length)
}

// Keys 获取所有节点的键值
func (l *List[T, E]) Keys() []float64 {
	keys := make([]float64, 0, l.length)
	for node := l.head; node != nil; node = node.next {
		keys = append(keys, node.S)
	}
	return keys
}

// Values 获取所有节点的值
func (l *List[T, E]) Values() []T {
	values := make([]T, 0, l.length)
	for node := l.head; node != nil; node = node.next {
		values = append(values, node.Value)
	}
	return values
}

// Len 获取链表长度
func (l *List[T, E]) Len() int {
	return l.length
}

// PushFront 向链表头部插入节点
func (l *List[T, E]) PushFront(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("push front node who already in list")
	}
	add.next = nil
	add.prev = nil
	if l.head == nil {
		add.parent = l
		l.head = add
		l.tail = add
		l.length++
	} else {
		// length++和add.parent在InsertBefore中处理
		l.head.InsertBefore(add)
	}
}

// PushBack 向链表尾部插入节点
func (l *List[T, E]) PushBack(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("push back node who already in list")
	}
	add.parent = l
	add.next = nil
	add.prev = l.tail
	if l.tail == nil {
		l.head = add
	} else {
		l.tail.next = add
	}
	l.tail = add
	l.length++
}

// Remove 从链表中移除节点
// 参数：node-要删除的节点，必须属于当前链表
func (l *List[T, E]) Remove(node *ListNode[T, E]) {
	if node.parent != l {
		log.Panic("remove node from wrong list")
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	node.parent = nil
	l.length--
}

// First 获取链表头部节点，链表为空则返回nil
func (l *List[T, E]) First() *ListNode[T, E] {
	return l.head
}

// Last 获取链表尾部节点，链表为空则返回nil
func (l *List[T, E]) Last() *ListNode[T, E] {
	return l.tail
}

// PopFront 移除并返回头部节点，链表为空则返回nil
func (l *List[T, E]) PopFront() *ListNode[T, E] {
	node := l.head
	if node != nil {
		l.Remove(node)
	}
	return node
}

// PopUntil 按顺序移除键值不大于s的头部节点
// 返回：被移除的节点（保持原顺序）
func (l *List[T, E]) PopUntil(s float64) (popped []*ListNode[T, E]) {
	for l.head != nil && l.head.S <= s {
		popped = append(popped, l.PopFront())
	}
	return popped
}

// Merge 批量插入节点并保持键值升序
// 算法说明：
// 1. 对待插入节点按键值稳定排序
// 2. 与链表做一次归并，键值相同时新节点排在已有节点之后
func (l *List[T, E]) Merge(adds []*ListNode[T, E]) {
	slices.SortStableFunc(adds, func(a, b *ListNode[T, E]) int {
		switch {
		case a.S < b.S:
			return -1
		case a.S > b.S:
			return 1
		default:
			return 0
		}
	})
	node := l.head
	for _, add := range adds {
		for node != nil && node.S <= add.S {
			node = node.next
		}
		if node != nil {
			node.InsertBefore(add)
		} else {
			l.PushBack(add)
		}
	}
}
