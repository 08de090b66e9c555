package forced

// loadBucket holds the tickets that started loading during one tick.
type loadBucket struct {
	tick    int
	tickets []*Ticket
}

// timeoutTracker fails chunk loads that take longer than window ticks.
// Buckets are appended in tick order, so expired ones are always at the
// front. Main goroutine only.
type timeoutTracker struct {
	window  int
	tick    int
	buckets []*loadBucket
}

func newTimeoutTracker(window int) *timeoutTracker {
	return &timeoutTracker{window: window}
}

func (tr *timeoutTracker) add(t *Ticket) {
	var b *loadBucket
	if n := len(tr.buckets); n > 0 && tr.buckets[n-1].tick == tr.tick {
		b = tr.buckets[n-1]
	} else {
		b = &loadBucket{tick: tr.tick}
		tr.buckets = append(tr.buckets, b)
	}
	b.tickets = append(b.tickets, t)
}

// run advances one tick and aborts every bucket that is window ticks old.
func (tr *timeoutTracker) run() {
	tr.tick++
	for len(tr.buckets) > 0 && tr.tick-tr.window >= tr.buckets[0].tick {
		b := tr.buckets[0]
		tr.buckets[0] = nil
		tr.buckets = tr.buckets[1:]
		for _, t := range b.tickets {
			t.abortIfStillPendingAndForced(tr.window)
		}
	}
}

// pending returns the number of tracked tickets.
func (tr *timeoutTracker) pending() int {
	n := 0
	for _, b := range tr.buckets {
		n += len(b.tickets)
	}
	return n
}
