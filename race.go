// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package shmpipe

// RaceEnabled is true when the race detector is active.
// Used by tests to skip scenarios whose atomix memory orderings
// trigger false positives in the detector.
const RaceEnabled = true
