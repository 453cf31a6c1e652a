// Package metricstest reads values back out of a prometheus registry in tests.
package metricstest

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CounterValue returns the counter (or gauge) sample matching every label.
func CounterValue(g prometheus.Gatherer, name string, labels map[string]string) (float64, error) {
	metric, err := find(g, name, labels)
	if err != nil {
		return 0, err
	}
	if c := metric.GetCounter(); c != nil {
		return c.GetValue(), nil
	}
	return metric.GetGauge().GetValue(), nil
}

// HistogramCount returns the number of observations for the matching series.
func HistogramCount(g prometheus.Gatherer, name string, labels map[string]string) (uint64, error) {
	metric, err := find(g, name, labels)
	if err != nil {
		return 0, err
	}
	return metric.GetHistogram().GetSampleCount(), nil
}

func find(g prometheus.Gatherer, name string, labels map[string]string) (*dto.Metric, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return nil, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric, nil
		}
	}
	return nil, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	for name, value := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == name && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
