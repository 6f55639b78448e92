package service

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestManagerServiceInitAndStop(t *testing.T) {
	svc := NewManagerService(-1, func() interface{} { return struct{}{} })

	ok, err := svc.Init(logrus.StandardLogger())
	if err != nil || !ok {
		t.Fatalf("Init: ok=%v err=%v", ok, err)
	}

	done := make(chan struct{})
	go func() {
		_ = svc.Serve()
		close(done)
	}()

	// Give the manager loop a moment to reach its sleep point before Stop
	// is requested, exercising the same wake path Stop relies on.
	time.Sleep(20 * time.Millisecond)
	svc.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ManagerService.Serve never returned after Stop")
	}
}
