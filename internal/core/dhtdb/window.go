package dhtdb

import "time"

// rateWindow 两桶滑动窗口计数
//
// 当前速率 = 当前桶计数 + 上一桶计数 × 上一桶仍在窗口内的比例。
type rateWindow struct {
	window time.Duration
	start  time.Time
	prev   int
	cur    int
}

func newRateWindow(window time.Duration, now time.Time) rateWindow {
	return rateWindow{window: window, start: now}
}

func (w *rateWindow) advance(now time.Time) {
	elapsed := now.Sub(w.start)
	if elapsed < w.window {
		return
	}
	if elapsed < 2*w.window {
		w.prev = w.cur
	} else {
		w.prev = 0
	}
	w.cur = 0
	w.start = w.start.Add(elapsed / w.window * w.window)
}

// add 计入一次事件并返回计入后的速率
func (w *rateWindow) add(now time.Time) int {
	w.advance(now)
	w.cur++
	return w.rate(now)
}

func (w *rateWindow) rate(now time.Time) int {
	w.advance(now)
	if w.prev == 0 {
		return w.cur
	}
	frac := float64(now.Sub(w.start)) / float64(w.window)
	if frac < 0 {
		frac = 0
	}
	return w.cur + int(float64(w.prev)*(1-frac))
}

func (w *rateWindow) idle(now time.Time) bool {
	return w.rate(now) == 0
}
