// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

// SameRUAndTrigger reports whether next continues the same RU
// trigger as prev: next's PageCnt must be non-zero, and the pair must
// share FEEId, TriggerOrbit, TriggerBC, HeartbeatOrbit and
// HeartbeatBC, with at least one TriggerType bit in common.
func SameRUAndTrigger(prev, next RDH) bool {
	if next.PageCnt == 0 {
		return false
	}
	if prev.FEEId != next.FEEId {
		return false
	}
	if prev.TriggerOrbit != next.TriggerOrbit || prev.TriggerBC != next.TriggerBC {
		return false
	}
	if prev.HeartbeatOrbit != next.HeartbeatOrbit || prev.HeartbeatBC != next.HeartbeatBC {
		return false
	}
	return prev.TriggerType&next.TriggerType != 0
}

// CheckPageCounter validates the page-counter continuity required of
// two consecutive pages of the same trigger.
func CheckPageCounter(prev, next RDH) error {
	if next.PageCnt != prev.PageCnt+1 {
		return ErrPageCounterDiscontinuity
	}
	return nil
}

// CheckEndOfTrigger validates the lane invariants required once a
// trigger's last page (Stop == 1) has been processed.
func CheckEndOfTrigger(lanesActive, lanesStop, lanesTimeout, lanesWithData, triggerType uint32) error {
	if lanesActive != lanesStop && triggerType&TriggerSOT == 0 {
		return ErrUnstoppedLanes
	}
	if (lanesActive&^lanesTimeout)&^lanesWithData != 0 {
		return ErrNoDataForActiveLane
	}
	return nil
}
