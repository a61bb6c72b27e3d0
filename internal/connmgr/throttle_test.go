// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package connmgr

import (
	"testing"
	"time"
)

func TestThrottleBurstAllowance(t *testing.T) {
	th := NewThrottle(ThrottleConfig{Step: 200 * time.Millisecond, Burst: 3})

	for i := 0; i < 3; i++ {
		if d := th.Reserve(); d != 0 {
			t.Fatalf("reservation %d: expected zero delay within burst, got %v", i, d)
		}
	}

	if d := th.Reserve(); d <= 0 {
		t.Fatalf("expected positive delay once the burst allowance is exhausted, got %v", d)
	}
}

func TestThrottleDelayScalesWithStep(t *testing.T) {
	th := NewThrottle(ThrottleConfig{Step: 100 * time.Millisecond, Burst: 1})

	th.Reserve() // consumes the single burst slot
	d := th.Reserve()
	if d < 90*time.Millisecond || d > 150*time.Millisecond {
		t.Fatalf("expected delay near one Step (100ms), got %v", d)
	}
}
