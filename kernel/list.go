package kernel

// threadList is an intrusive FIFO of threads, threaded through each
// Thread's own readyNext/readyPrev fields. Using intrusive links avoids
// any allocation on the scheduler's hottest path (ready-set push/pop).
type threadList struct {
	head, tail *Thread
	length     int
}

func (l *threadList) empty() bool { return l.length == 0 }

func (l *threadList) pushBack(t *Thread) {
	t.readyNext, t.readyPrev = nil, l.tail
	if l.tail != nil {
		l.tail.readyNext = t
	} else {
		l.head = t
	}
	l.tail = t
	l.length++
}

func (l *threadList) popFront() *Thread {
	t := l.head
	if t == nil {
		return nil
	}
	l.head = t.readyNext
	if l.head != nil {
		l.head.readyPrev = nil
	} else {
		l.tail = nil
	}
	t.readyNext, t.readyPrev = nil, nil
	l.length--
	return t
}

func (l *threadList) remove(t *Thread) {
	if t.readyPrev != nil {
		t.readyPrev.readyNext = t.readyNext
	} else if l.head == t {
		l.head = t.readyNext
	} else {
		return // not a member of this list
	}
	if t.readyNext != nil {
		t.readyNext.readyPrev = t.readyPrev
	} else if l.tail == t {
		l.tail = t.readyPrev
	}
	t.readyNext, t.readyPrev = nil, nil
	l.length--
}
