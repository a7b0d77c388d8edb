//go:build unit

package stream

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/channel"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/dmaarena"
)

func newH2CStream(t *testing.T, name string, seed uint32, numDescriptors uint32) (*Stream, []byte) {
	t.Helper()
	bar := channel.NewFakeBARForTest(channel.DirectionH2C, 0, false, 64)
	arena := dmaarena.New(dmaarena.Mapping{
		HostMem:  make([]byte, dmaarena.SizeNeededForRing(dmaarena.RingSizeConfig{NumDescriptors: numDescriptors})),
		IOVABase: 0x5000_0000,
	})
	hostPayload := dmaarena.Mapping{HostMem: make([]byte, 4096), IOVABase: 0x6000_0000}
	overallSuccess := true
	ctx, err := channel.Initialise(arena, bar, channel.Config{
		DeviceName:     name,
		ChannelID:      0,
		Direction:      channel.DirectionH2C,
		Endpoint:       channel.EndpointMemory,
		NumDescriptors: numDescriptors,
		BytesPerBuffer: 0x40,
		Timeout:        -1,
		HostMapping:    hostPayload,
		CardMemorySize: 0x10000,
	}, &overallSuccess)
	if err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	return NewStream(name, ctx, seed), hostPayload.HostMem
}

func completeAll(s *Stream) {
	binary.LittleEndian.PutUint32(s.ctx.Ring().CompletionWB, s.ctx.NumInUseDescriptors())
}

func TestFillH2CWritesDistinctPatternsPerStream(t *testing.T) {
	a, memA := newH2CStream(t, "a", 1, 4)
	b, memB := newH2CStream(t, "b", 2, 4)

	a.fillH2C()
	b.fillH2C()

	if a.ctx.NumInUseDescriptors() != 4 || b.ctx.NumInUseDescriptors() != 4 {
		t.Fatalf("expected all 4 descriptors queued on each stream")
	}
	if string(memA[:0x40]) == string(memB[:0x40]) {
		t.Fatal("distinct seeds produced identical test patterns")
	}
}

func TestPollOnceCountsAndRequeues(t *testing.T) {
	s, _ := newH2CStream(t, "a", 7, 4)
	s.fillH2C()

	completeAll(s)
	s.pollOnce(false)

	if s.transfersThisInterval != 4 {
		t.Fatalf("transfersThisInterval = %d, want 4", s.transfersThisInterval)
	}
	if s.bytesThisInterval != 4*0x40 {
		t.Fatalf("bytesThisInterval = %d, want %d", s.bytesThisInterval, 4*0x40)
	}
	// Re-queued: all 4 descriptors should be in use again.
	if s.ctx.NumInUseDescriptors() != 4 {
		t.Fatalf("NumInUseDescriptors after requeue = %d, want 4", s.ctx.NumInUseDescriptors())
	}
}

func TestPollOnceStoppingDoesNotRequeue(t *testing.T) {
	s, _ := newH2CStream(t, "a", 7, 4)
	s.fillH2C()

	completeAll(s)
	s.pollOnce(true)

	if s.ctx.NumInUseDescriptors() != 0 {
		t.Fatalf("NumInUseDescriptors after stopping poll = %d, want 0", s.ctx.NumInUseDescriptors())
	}
}

func TestDriverRunDrainsAndStopsOnRequest(t *testing.T) {
	s, _ := newH2CStream(t, "a", 3, 4)
	d := NewDriver([]*Stream{s})
	d.RequestStop()

	// Completion never happens because we stop immediately after the
	// initial fill; simulate one round of completions before Run drains.
	s.fillH2C()
	completeAll(s)

	d.Run()

	if s.ctx.NumInUseDescriptors() != 0 {
		t.Fatalf("expected drained after Run, got %d in use", s.ctx.NumInUseDescriptors())
	}
	if s.transfersOverall != 4 {
		t.Fatalf("transfersOverall = %d, want 4", s.transfersOverall)
	}
}

func TestDriverPublishCollectHandoff(t *testing.T) {
	s, _ := newH2CStream(t, "a", 3, 2)
	d := NewDriver([]*Stream{s})

	s.fillH2C()
	completeAll(s)
	s.pollOnce(true)

	now := time.Now()
	d.publish(now, now)

	snapshots := d.Collect()
	if len(snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snapshots))
	}
	if snapshots[0].TransfersThisInterval != 2 {
		t.Errorf("TransfersThisInterval = %d, want 2", snapshots[0].TransfersThisInterval)
	}
	if snapshots[0].Name != "a" {
		t.Errorf("Name = %q, want \"a\"", snapshots[0].Name)
	}
}
