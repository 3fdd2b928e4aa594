package drivertest

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/unknowall/LightVK/driver"
)

// Presentation is one recorded call to Present.
type Presentation struct {
	Queue driver.Queue
	Image int
	Wait  driver.Semaphore
}

// Surface is a fake swap surface. Acquisition hands out images
// round-robin unless Images scripts the sequence.
type Surface struct {
	mu sync.Mutex

	// Images, if set, is the sequence of image indices returned by
	// AcquireNext. It wraps around when exhausted.
	Images []int

	// StaleAcquire and StalePresent hold the 1-based call numbers
	// at which AcquireNext or Present return ErrSurfaceStale.
	StaleAcquire map[int]bool
	StalePresent map[int]bool

	// Fail makes AcquireNext or Present, keyed by method name,
	// return the error instead of doing anything.
	Fail map[string]error

	// RebuildImages, if positive, is the image count after the next
	// Rebuild.
	RebuildImages int
	// RebuildExtent, if not empty, is the extent after the next
	// Rebuild.
	RebuildExtent driver.Extent2D

	images     int
	extent     driver.Extent2D
	generation int
	acquires   int
	presents   int
	rebuilds   int
	destroyed  bool
	onDestroy  func()
	acquired   []driver.Semaphore
	presented  []Presentation
}

func NewSurface(images int, extent driver.Extent2D) *Surface {
	return &Surface{
		StaleAcquire: make(map[int]bool),
		StalePresent: make(map[int]bool),
		Fail:         make(map[string]error),
		images:       images,
		extent:       extent,
	}
}

func (s *Surface) AcquireNext(available driver.Semaphore) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return 0, errors.New("drivertest: acquire on destroyed surface")
	}
	s.acquires++
	if err, ok := s.Fail["AcquireNext"]; ok {
		return 0, errors.Wrap(err, "drivertest: AcquireNext")
	}
	if s.StaleAcquire[s.acquires] {
		return 0, errors.Wrapf(driver.ErrSurfaceStale, "acquire %d", s.acquires)
	}
	s.acquired = append(s.acquired, available)
	n := len(s.acquired) - 1
	if len(s.Images) > 0 {
		return s.Images[n%len(s.Images)] % s.images, nil
	}
	return n % s.images, nil
}

func (s *Surface) Present(q driver.Queue, imageIndex int, wait driver.Semaphore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if imageIndex < 0 || imageIndex >= s.images {
		return errors.Newf("drivertest: present of image %d out of %d", imageIndex, s.images)
	}
	s.presents++
	if err, ok := s.Fail["Present"]; ok {
		return errors.Wrap(err, "drivertest: Present")
	}
	if s.StalePresent[s.presents] {
		return errors.Wrapf(driver.ErrSurfaceStale, "present %d", s.presents)
	}
	s.presented = append(s.presented, Presentation{Queue: q, Image: imageIndex, Wait: wait})
	return nil
}

func (s *Surface) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images
}

// Framebuffer returns a handle that encodes the surface generation
// and the image index, so framebuffers from before a rebuild never
// compare equal to those after it.
func (s *Surface) Framebuffer(imageIndex int) driver.Framebuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FramebufferFor(s.generation, imageIndex)
}

func FramebufferFor(generation, imageIndex int) driver.Framebuffer {
	return driver.Framebuffer(1000*(generation+1) + imageIndex)
}

func (s *Surface) Extent() driver.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Surface) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return errors.New("drivertest: rebuild of destroyed surface")
	}
	s.rebuilds++
	s.generation++
	if s.RebuildImages > 0 {
		s.images = s.RebuildImages
		s.RebuildImages = 0
	}
	if !s.RebuildExtent.Empty() {
		s.extent = s.RebuildExtent
		s.RebuildExtent = driver.Extent2D{}
	}
	return nil
}

func (s *Surface) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	onDestroy := s.onDestroy
	s.mu.Unlock()
	if onDestroy != nil {
		onDestroy()
	}
}

func (s *Surface) Presentations() []Presentation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Presentation(nil), s.presented...)
}

// Acquires and Presents count calls, including failed ones.
func (s *Surface) Acquires() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires
}

func (s *Surface) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

// AcquiredWith returns the semaphore passed to each successful
// AcquireNext, in order.
func (s *Surface) AcquiredWith() []driver.Semaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]driver.Semaphore(nil), s.acquired...)
}

func (s *Surface) Rebuilds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuilds
}

func (s *Surface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}
