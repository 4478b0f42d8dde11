package metrics

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Point is one exported data point.
type Point struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"` // counter, gauge or histogram
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`           // histogram: sum of observations
	Count      uint64            `json:"count,omitempty"` // histogram only
}

// Exporter owns an SDK meter provider backed by a pull reader. The status
// API collects from it on every /metrics request.
type Exporter struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// NewExporter creates an exporter with its own meter provider.
func NewExporter() *Exporter {
	reader := sdkmetric.NewManualReader()
	return &Exporter{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// MeterProvider returns the provider instruments should register on.
func (e *Exporter) MeterProvider() metric.MeterProvider {
	return e.provider
}

// Collect gathers every instrument's current points, sorted by name.
func (e *Exporter) Collect(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := e.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	points := []Point{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			points = append(points, flatten(m)...)
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points, nil
}

// Shutdown flushes and releases the provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

func flatten(m metricdata.Metrics) []Point {
	var out []Point
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, point(m.Name, "counter", dp.Attributes, float64(dp.Value), 0))
		}
	case metricdata.Sum[float64]:
		for _, dp := range data.DataPoints {
			out = append(out, point(m.Name, "counter", dp.Attributes, dp.Value, 0))
		}
	case metricdata.Gauge[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, point(m.Name, "gauge", dp.Attributes, float64(dp.Value), 0))
		}
	case metricdata.Gauge[float64]:
		for _, dp := range data.DataPoints {
			out = append(out, point(m.Name, "gauge", dp.Attributes, dp.Value, 0))
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			out = append(out, point(m.Name, "histogram", dp.Attributes, dp.Sum, dp.Count))
		}
	case metricdata.Histogram[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, point(m.Name, "histogram", dp.Attributes, float64(dp.Sum), dp.Count))
		}
	}
	return out
}

func point(name, kind string, set attribute.Set, value float64, count uint64) Point {
	p := Point{Name: name, Kind: kind, Value: value, Count: count}
	if set.Len() > 0 {
		p.Attributes = make(map[string]string, set.Len())
		for _, kv := range set.ToSlice() {
			p.Attributes[string(kv.Key)] = kv.Value.Emit()
		}
	}
	return p
}
