package metrics2

import (
	"sync"
	"time"
)

const livenessUpdateFrequency = 5 * time.Second

// Liveness keeps a time-since-last-successful-update metric.
//
// The unit of the metric is in seconds. It is used to track how long it has
// been since some activity last completed successfully, which makes it easy
// to alert on stuck loops.
type Liveness struct {
	lastSuccessfulUpdate time.Time
	m                    Int64Metric
	mutex                sync.Mutex
}

// NewLiveness creates a new Liveness metric helper. The current time is used
// as the first success.
func NewLiveness(name string, tags ...map[string]string) *Liveness {
	allTags := append([]map[string]string{{"type": "liveness"}}, tags...)
	l := &Liveness{
		lastSuccessfulUpdate: time.Now(),
		m:                    GetInt64Metric("liveness_"+clean(name)+"_s", allTags...),
	}
	l.update()
	go func() {
		for range time.Tick(livenessUpdateFrequency) {
			l.update()
		}
	}()
	return l
}

// Get returns the number of seconds since the last successful update.
func (l *Liveness) Get() int64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return int64(time.Since(l.lastSuccessfulUpdate).Seconds())
}

// update pushes the current elapsed time into the metric.
func (l *Liveness) update() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.m.Update(int64(time.Since(l.lastSuccessfulUpdate).Seconds()))
}

// Reset should be called when some work has been successfully completed.
func (l *Liveness) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.lastSuccessfulUpdate = time.Now()
	l.m.Update(0)
}
