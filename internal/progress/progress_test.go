package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestCountsUnderConcurrentUpdates(t *testing.T) {
	tracker := New(100, &bytes.Buffer{}, false)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tracker.Update(i%4 != 0)
		}(i)
	}
	wg.Wait()

	completed, failed, total := tracker.Counts()
	if completed != 75 || failed != 25 || total != 100 {
		t.Errorf("Counts() = (%d, %d, %d), want (75, 25, 100)", completed, failed, total)
	}
}

func TestDisabledTrackerWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	tracker := New(3, &buf, false)
	tracker.Update(true)
	tracker.Update(false)
	tracker.Finish()

	if buf.Len() != 0 {
		t.Errorf("disabled tracker wrote %q", buf.String())
	}
}

func TestFinishSummary(t *testing.T) {
	var buf bytes.Buffer
	tracker := New(2, &buf, true)
	tracker.Update(true)
	tracker.Update(false)
	tracker.Finish()

	out := buf.String()
	if !strings.Contains(out, "1 ok") || !strings.Contains(out, "1 failed") {
		t.Errorf("Finish() output missing counts: %q", out)
	}
}
