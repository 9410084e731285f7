package metrics2

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.pixelhawk.org/hawk/go/sklog"
)

// invalidChar is used to force metric and tag names to conform to
// Prometheus's restrictions.
var invalidChar = regexp.MustCompile(`([^a-zA-Z0-9_:])`)

func clean(s string) string {
	return invalidChar.ReplaceAllLiteralString(s, "_")
}

// promInt64 implements the Int64Metric and Counter interfaces.
type promInt64 struct {
	// i tracks the value of the gauge, because the prometheus client lib
	// doesn't support get on Gauge values.
	i     int64
	gauge prometheus.Gauge
}

func (m *promInt64) Get() int64 {
	return atomic.LoadInt64(&m.i)
}

func (m *promInt64) Update(v int64) {
	atomic.StoreInt64(&m.i, v)
	m.gauge.Set(float64(v))
}

func (m *promInt64) Inc(i int64) {
	m.gauge.Set(float64(atomic.AddInt64(&m.i, i)))
}

func (m *promInt64) Reset() {
	m.Update(0)
}

// promClient hands out gauges backed by a shared registry, deduping on
// (name, tag keys, tag values).
type promClient struct {
	mutex     sync.Mutex
	gaugeVecs map[string]*prometheus.GaugeVec
	gauges    map[string]*promInt64
}

var defaultClient = &promClient{
	gaugeVecs: map[string]*prometheus.GaugeVec{},
	gauges:    map[string]*promInt64{},
}

// flatten produces the sorted tag keys and their values from the union of the
// given tag maps.
func flatten(tags ...map[string]string) ([]string, []string) {
	merged := map[string]string{}
	for _, t := range tags {
		for k, v := range t {
			merged[clean(k)] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, merged[k])
	}
	return keys, values
}

func (c *promClient) getInt64Metric(name string, tags ...map[string]string) Int64Metric {
	return c.gauge(name, tags...)
}

func (c *promClient) getCounter(name string, tags ...map[string]string) Counter {
	return c.gauge(name, tags...)
}

func (c *promClient) gauge(name string, tags ...map[string]string) *promInt64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	name = clean(name)
	keys, values := flatten(tags...)
	vecKey := name + "-" + strings.Join(keys, "-")
	vec, ok := c.gaugeVecs[vecKey]
	if !ok {
		vec = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: name}, keys)
		c.gaugeVecs[vecKey] = vec
	}
	gaugeKey := vecKey + "-" + strings.Join(values, "-")
	g, ok := c.gauges[gaugeKey]
	if !ok {
		gauge, err := vec.GetMetricWithLabelValues(values...)
		if err != nil {
			sklog.Fatalf("Failed to get metric %q: %s", name, err)
		}
		g = &promInt64{gauge: gauge}
		c.gauges[gaugeKey] = g
	}
	return g
}
