package kernel

import "fmt"

// MemPool is a fixed-block memory pool: a FIFO free list of
// equally-sized blocks, handed out and returned in O(1) with no
// fragmentation (C12). Go already has a general-purpose allocator, so
// MemPool's value here is determinism (bounded block count, no GC
// involvement on the hot path) and symmetry with the rest of the
// concurrency object layer: Alloc can block a thread until a block is
// freed, the same way Semaphore.Wait or MsgQueue.Receive can.
//
// free is a fixed-capacity ring buffer rather than Go's slice-of-
// slices append/truncate idiom: spec §4.12 specifies FIFO handout
// (oldest-freed block first, for fairness rather than cache warmth),
// and a ring with a head index gives that ordering in O(1) the same
// way MsgQueue's slots do, instead of repeatedly reallocating a slice
// that's only ever popped from one end and pushed from the other.
type MemPool struct {
	kernel *Kernel

	blockSize int
	free      [][]byte
	head      int
	count     int
	waiters   WaitQueue

	total int
}

// NewMemPool constructs a pool of blockCount blocks, each blockSize
// bytes, pre-allocated up front.
func (k *Kernel) NewMemPool(blockSize, blockCount int) (*MemPool, error) {
	if blockSize <= 0 || blockCount <= 0 {
		return nil, newErr("mempool.new", KindInvalid, fmt.Errorf("blockSize and blockCount must be positive, got %d/%d", blockSize, blockCount))
	}
	p := &MemPool{kernel: k, blockSize: blockSize, total: blockCount}
	p.waiters.name = "mempool"
	p.free = make([][]byte, blockCount)
	for i := range p.free {
		p.free[i] = make([]byte, blockSize)
	}
	p.count = blockCount
	return p, nil
}

// BlockSize returns the fixed size of every block in the pool.
func (p *MemPool) BlockSize() int { return p.blockSize }

// Available returns the number of free blocks.
func (p *MemPool) Available() int {
	k := p.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return p.count
}

// popFreeLocked removes and returns the block at the head of the free
// ring (FIFO: the block that has been free the longest). Must be
// called with k.mu held and p.count > 0.
func (p *MemPool) popFreeLocked() []byte {
	blk := p.free[p.head]
	p.free[p.head] = nil
	p.head = (p.head + 1) % len(p.free)
	p.count--
	return blk
}

// pushFreeLocked appends blk to the tail of the free ring. Must be
// called with k.mu held and p.count < len(p.free).
func (p *MemPool) pushFreeLocked(blk []byte) {
	p.free[(p.head+p.count)%len(p.free)] = blk
	p.count++
}

// Alloc removes a block from the free list, blocking self if none is
// free until one is returned via Free or deadlineTicks elapses.
//
// A thread woken by Free only learns that a block existed at the
// moment Free ran; by the time it regains the lock, a higher-priority
// TryAlloc may already have taken it (the common priority-inversion
// shape: Free's wakeOne only readies the waiter, it doesn't hand the
// block to it directly). So the wake is re-validated in a loop rather
// than trusted — a stolen wakeup simply re-parks instead of popping an
// empty free ring.
func (p *MemPool) Alloc(self *Thread, deadlineTicks uint64, hasDeadline bool) ([]byte, error) {
	k := p.kernel
	k.mu.Lock()
	for {
		if p.count > 0 {
			blk := p.popFreeLocked()
			k.mu.Unlock()
			return blk, nil
		}
		if err := k.checkCanBlock(self, "mempool.alloc"); err != nil {
			k.mu.Unlock()
			return nil, err
		}
		self.setState(StateSuspended)
		p.waiters.enqueue(self)
		if hasDeadline {
			k.delay.add(self, deadlineTicks)
		}
		if err := k.dispatch(self); err != nil {
			return nil, err
		}
		if err := self.wakeReason.err("mempool.alloc"); err != nil {
			return nil, err
		}
		k.mu.Lock()
	}
}

// TryAlloc is Alloc's non-blocking variant.
func (p *MemPool) TryAlloc(self *Thread) ([]byte, error) {
	k := p.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if p.count == 0 {
		return nil, newErr("mempool.tryalloc", KindWouldBlock, nil)
	}
	return p.popFreeLocked(), nil
}

// Free returns blk to the pool. blk must have come from this pool's
// Alloc/TryAlloc. A slice whose length is not the pool's block size is
// KindInvalid, and so is any Free made while every block is already
// free. Free does not otherwise check where blk came from: a foreign
// slice of the right length is accepted and handed out by a later
// Alloc/TryAlloc.
func (p *MemPool) Free(self *Thread, blk []byte) error {
	if len(blk) != p.blockSize {
		return newErr("mempool.free", KindInvalid, fmt.Errorf("block size %d does not match pool block size %d", len(blk), p.blockSize))
	}
	k := p.kernel
	k.mu.Lock()
	if p.count >= len(p.free) {
		k.mu.Unlock()
		return newErr("mempool.free", KindInvalid, fmt.Errorf("every block of the pool is already free"))
	}
	p.pushFreeLocked(blk)
	if next := k.wakeOne(&p.waiters, WakeOK); next != nil {
		return k.finishLocked(self)
	}
	k.mu.Unlock()
	return nil
}
