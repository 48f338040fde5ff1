package kernel

import "encoding/binary"

// putMagic writes pattern into a stack's base-word sentinel, little
// endian, matching how a real port would prime the fill pattern before
// the first dispatch of a new thread.
func putMagic(stack *[4]byte, pattern uint32) {
	binary.LittleEndian.PutUint32(stack[:], pattern)
}

// checkMagic reports whether a stack's sentinel word still holds pattern.
func checkMagic(stack *[4]byte, pattern uint32) bool {
	return binary.LittleEndian.Uint32(stack[:]) == pattern
}

// checkStackGuardLocked verifies t's stack sentinel and fires the
// configured StackOverflowHook if it no longer holds the kernel's magic
// pattern. Must be called with k.mu held; the hook itself is invoked
// without the lock so it may safely call back into diagnostics.
func (k *Kernel) checkStackGuardLocked(t *Thread) {
	if checkMagic(&t.stack, k.stackFillMagic) {
		t.stackChecks++
		return
	}
	hook := k.stackOverflowHook
	k.mu.Unlock()
	if hook != nil {
		hook(t)
	}
	k.log.Error().Str("thread", t.name).Int("id", int(t.id)).Log("stack overflow detected")
	k.mu.Lock()
}

// checkAllStackGuardsLocked is Tick's per-tick sweep (§4.15): every
// live thread's sentinel is checked, so an overflow is caught within
// one tick period of occurring even if the offending thread never
// terminates. Must be called with k.mu held.
func (k *Kernel) checkAllStackGuardsLocked() {
	live := make([]*Thread, 0, len(k.threads))
	for _, t := range k.threads {
		if t.state != StateTerminated {
			live = append(live, t)
		}
	}
	for _, t := range live {
		k.checkStackGuardLocked(t)
	}
}
