// Package metrics2 offers a thin wrapper around the Prometheus client
// library, so that application code deals in simple named metrics with tags.
package metrics2

// Int64Metric is a metric which reports an int64 gauge value.
type Int64Metric interface {
	// Get returns the last value set with Update.
	Get() int64

	// Update sets the current value of the metric.
	Update(v int64)
}

// Counter is a metric which reports a cumulative count.
type Counter interface {
	// Inc increments the counter by the given quantity.
	Inc(i int64)

	// Get returns the current value.
	Get() int64

	// Reset sets the counter to zero.
	Reset()
}

// GetInt64Metric returns an Int64Metric instance for the given name and tags.
func GetInt64Metric(name string, tags ...map[string]string) Int64Metric {
	return defaultClient.getInt64Metric(name, tags...)
}

// GetCounter returns a Counter instance for the given name and tags.
func GetCounter(name string, tags ...map[string]string) Counter {
	return defaultClient.getCounter(name, tags...)
}
