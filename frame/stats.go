package frame

import (
	"time"
)

// Stats counts what the engine has done since it was created.
type Stats struct {
	// Frames is the number of presented frames.
	Frames        uint64
	Submissions   uint64
	Rebuilds      uint64
	StaleAcquires uint64
	StalePresents uint64

	// SlotWaits[i] is how many times slot i's fence was waited on
	// since the slot array was last rebuilt.
	SlotWaits []uint64

	// Waits counts every slot wait, including those of frames that
	// ended in a rebuild instead of a present.
	Waits     uint64
	WaitTime  time.Duration
	MaxWait   time.Duration
	FrameTime time.Duration
	MaxFrame  time.Duration
}

func (s *Stats) observeWait(slot int, d time.Duration) {
	s.SlotWaits[slot]++
	s.Waits++
	s.WaitTime += d
	if d > s.MaxWait {
		s.MaxWait = d
	}
}

func (s *Stats) observeFrame(d time.Duration) {
	s.Frames++
	s.FrameTime += d
	if d > s.MaxFrame {
		s.MaxFrame = d
	}
}

// MeanFrame returns the average time spent in DrawFrame per
// presented frame.
func (s Stats) MeanFrame() time.Duration {
	if s.Frames == 0 {
		return 0
	}
	return s.FrameTime / time.Duration(s.Frames)
}

// MeanWait returns the average duration of a slot wait.
func (s Stats) MeanWait() time.Duration {
	if s.Waits == 0 {
		return 0
	}
	return s.WaitTime / time.Duration(s.Waits)
}

func (s Stats) clone() Stats {
	s.SlotWaits = append([]uint64(nil), s.SlotWaits...)
	return s
}
