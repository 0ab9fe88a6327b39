package workers

import (
	"sync/atomic"
	"testing"

	"github.com/ooni/sscontrol/internal/model"
)

func TestManager(t *testing.T) {
	t.Run("workers stop after StartShutdown", func(t *testing.T) {
		m := NewManager(model.NewTestLogger())
		var stopped atomic.Int32
		for i := 0; i < 3; i++ {
			m.StartWorker("test", func(shouldShutdown <-chan any) {
				<-shouldShutdown
				stopped.Add(1)
			})
		}
		m.StartShutdown()
		m.WaitWorkersShutdown()
		if got := stopped.Load(); got != 3 {
			t.Fatalf("expected 3 stopped workers, got %d", got)
		}
	})

	t.Run("StartShutdown is idempotent", func(t *testing.T) {
		m := NewManager(model.NewTestLogger())
		m.StartShutdown()
		m.StartShutdown()
		select {
		case <-m.ShouldShutdown():
		default:
			t.Fatal("expected closed channel")
		}
	})
}
