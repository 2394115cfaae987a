package util

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSafeGo(t *testing.T) {
	var wg sync.WaitGroup
	executed := false

	wg.Add(1)
	SafeGo(func() {
		defer wg.Done()
		executed = true
	})

	wg.Wait()

	if !executed {
		t.Error("SafeGo did not execute the function")
	}
}

func TestSafeGoWithNameSurvivesPanic(t *testing.T) {
	done := make(chan struct{})

	SafeGoWithName("test-goroutine", func() {
		defer close(done)
		panic("test panic")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("SafeGoWithName did not complete in time")
	}
}

func TestSafeGoWithHandler(t *testing.T) {
	got := make(chan *PanicError, 1)

	SafeGoWithHandler("websock-reader", func() {
		panic("socket exploded")
	}, func(pe *PanicError) {
		got <- pe
	})

	select {
	case pe := <-got:
		if pe.Goroutine != "websock-reader" {
			t.Errorf("expected goroutine name, got %q", pe.Goroutine)
		}
		if pe.Value != "socket exploded" {
			t.Errorf("expected panic value, got %v", pe.Value)
		}
		if len(pe.Stack) == 0 {
			t.Error("expected a stack trace")
		}
		if !strings.Contains(pe.Error(), "websock-reader") {
			t.Errorf("error text missing goroutine name: %s", pe.Error())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic handler was not called")
	}
}

func TestSafeGoWithHandlerNoPanic(t *testing.T) {
	called := make(chan struct{}, 1)
	done := make(chan struct{})

	SafeGoWithHandler("quiet", func() {
		close(done)
	}, func(*PanicError) {
		called <- struct{}{}
	})

	<-done
	select {
	case <-called:
		t.Error("handler should not run without a panic")
	case <-time.After(50 * time.Millisecond):
	}
}
