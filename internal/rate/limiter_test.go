package rate

import (
	"testing"
	"time"
)

func TestWindowLimiterBlocksAfterLimit(t *testing.T) {
	l := NewWindowLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d blocked before limit", i+1)
		}
	}
	ok, retryIn := l.Allow("1.2.3.4")
	if ok {
		t.Fatal("request over limit allowed")
	}
	if retryIn <= 0 || retryIn > time.Minute {
		t.Errorf("retryIn = %v", retryIn)
	}

	if ok, _ := l.Allow("5.6.7.8"); !ok {
		t.Error("other key blocked")
	}
}

func TestWindowLimiterResetsAfterWindow(t *testing.T) {
	l := NewWindowLimiter(1, 10*time.Millisecond)

	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("first request blocked")
	}
	if ok, _ := l.Allow("k"); ok {
		t.Fatal("second request inside window allowed")
	}
	time.Sleep(15 * time.Millisecond)
	if ok, _ := l.Allow("k"); !ok {
		t.Error("request after window reset blocked")
	}
}
