package modbusdevices

// Scheduler decides which groups are due on a tick.
type Scheduler struct {
	groups []*Group
	read   map[*Group]bool
}

func NewScheduler(groups []*Group) *Scheduler {
	return &Scheduler{groups: groups, read: make(map[*Group]bool)}
}

// Schedule returns the groups to read on tick, ticks start at 1.
func (s *Scheduler) Schedule(tick uint64) []*Group {
	var due []*Group
	for _, g := range s.groups {
		if !g.wire() {
			continue
		}
		switch g.PollMode {
		case PollOnce:
			if !s.read[g] {
				due = append(due, g)
			}
		case PollOn:
			if g.Every <= 1 || (tick-1)%g.Every == 0 {
				due = append(due, g)
			}
		}
	}
	return due
}

// MarkRead records a fully successful read of g.
func (s *Scheduler) MarkRead(g *Group) {
	if g.PollMode == PollOnce {
		s.read[g] = true
	}
}

// Reset makes PollOnce groups due again, called when the connection is lost.
func (s *Scheduler) Reset() {
	for g := range s.read {
		delete(s.read, g)
	}
}

// OnceComplete reports whether every PollOnce group has been read.
func (s *Scheduler) OnceComplete() bool {
	for _, g := range s.groups {
		if g.wire() && g.PollMode == PollOnce && !s.read[g] {
			return false
		}
	}
	return true
}

func (s *Scheduler) hasOnce() bool {
	for _, g := range s.groups {
		if g.wire() && g.PollMode == PollOnce {
			return true
		}
	}
	return false
}
