package metrics2

import (
	"time"
)

// Timer measures the duration of a section of code and reports it, in
// milliseconds, to a gauge named after the timer.
//
//	defer metrics2.NewTimer("diff_run").Stop()
type Timer struct {
	begin time.Time
	m     Int64Metric
}

// NewTimer creates and starts a new Timer.
func NewTimer(name string, tags ...map[string]string) *Timer {
	allTags := append([]map[string]string{{"type": "timer"}}, tags...)
	t := &Timer{
		m: GetInt64Metric("timer_"+clean(name)+"_ms", allTags...),
	}
	t.Start()
	return t
}

// Start starts or restarts the timer.
func (t *Timer) Start() {
	t.begin = time.Now()
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.begin)
	t.m.Update(d.Milliseconds())
	return d
}
