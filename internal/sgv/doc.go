// Package sgv turns a newest-first list of glucose readings into the fixed
// grid series and summary fields shown on the watch.
//
// The graph series is anchored at the newest reading and walks backwards in
// IntervalSeconds steps until FetchWindowSeconds is covered. Each slot holds
// the closest reading within one interval, halved and clamped to a byte so
// the whole series fits a single device message.
package sgv
