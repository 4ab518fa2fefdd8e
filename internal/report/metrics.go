package report

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "onnxbench"

// WriteTextfile writes the rows as Prometheus gauges, for the node exporter's
// textfile collector.
func WriteTextfile(path string, rows []Row) error {
	labels := []string{"epochs", "batch_size"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	mean := gauge("latency_mean_seconds", "Mean inference latency per iteration.")
	p95 := gauge("latency_p95_seconds", "95th percentile inference latency.")
	p99 := gauge("latency_p99_seconds", "99th percentile inference latency.")
	throughput := gauge("throughput_samples_per_second", "Inference throughput.")
	accuracy := gauge("accuracy_ratio", "Inference accuracy over the timed samples.")

	reg := prometheus.NewRegistry()
	reg.MustRegister(mean, p95, p99, throughput, accuracy)

	for _, r := range rows {
		lv := []string{strconv.Itoa(r.Epochs), strconv.Itoa(r.BatchSize)}
		mean.WithLabelValues(lv...).Set(r.MeanMs / 1000)
		p95.WithLabelValues(lv...).Set(r.P95Ms / 1000)
		p99.WithLabelValues(lv...).Set(r.P99Ms / 1000)
		throughput.WithLabelValues(lv...).Set(r.Throughput)
		accuracy.WithLabelValues(lv...).Set(r.Accuracy)
	}
	return prometheus.WriteToTextfile(path, reg)
}
