package events

import "container/heap"

type queueItem struct {
	Scheduled
	seq uint64
}

// eventQueue is a min-heap on execution time, FIFO among equal times.
type eventQueue []queueItem

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].ExecuteAt.Equal(q[j].ExecuteAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].ExecuteAt.Before(q[j].ExecuteAt)
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func (q *eventQueue) push(s Scheduled, seq uint64) {
	heap.Push(q, queueItem{Scheduled: s, seq: seq})
}

func (q *eventQueue) peek() (Scheduled, bool) {
	if len(*q) == 0 {
		return Scheduled{}, false
	}
	return (*q)[0].Scheduled, true
}

func (q *eventQueue) pop() Scheduled {
	return heap.Pop(q).(queueItem).Scheduled
}
