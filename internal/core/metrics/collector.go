package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-dhtdb/internal/core/dhtdb"
	"github.com/dep2p/go-dhtdb/internal/core/nat/traversal"
)

// Sources 指标数据源；为 nil 的数据源不导出
type Sources struct {
	DB        *dhtdb.DB
	Traversal *traversal.Coordinator
	Bandwidth Reporter
}

// Collector 在每次抓取时读取统计快照
type Collector struct {
	src Sources

	keys, values, size, diversified, blocks *prometheus.Desc
	ops, rejects, evicted, expired          *prometheus.Desc
	state                                   *prometheus.Desc

	attempts, pending, running *prometheus.Desc

	bytes *prometheus.Desc
}

// NewCollector 创建收集器
func NewCollector(namespace string, src Sources) *Collector {
	db := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", name), help, labels, nil)
	}
	nat := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "traversal", name), help, labels, nil)
	}
	return &Collector{
		src:         src,
		keys:        db("keys", "Keys with at least one live value."),
		values:      db("values", "Stored values by origin.", "origin"),
		size:        db("size_bytes", "Total payload bytes held."),
		diversified: db("diversified_keys", "Keys currently under diversification.", "div"),
		blocks:      db("blocked_keys", "Keys in the block registry."),
		ops:         db("operations_total", "Store operations handled.", "op"),
		rejects:     db("rejects_total", "Remote stores rejected.", "reason"),
		evicted:     db("evicted_total", "Values evicted by the size cap."),
		expired:     db("expired_total", "Values removed on expiry."),
		state:       db("state", "Store state flags.", "state"),

		attempts: nat("attempts_total", "Traversal attempts by outcome.", "result"),
		pending:  nat("pending", "Attempts waiting for a worker."),
		running:  nat("running", "Attempts being executed."),

		bytes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "transport", "bytes_total"),
			"Transport bytes by direction and message type.", []string{"direction", "type"}, nil),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.keys, c.values, c.size, c.diversified, c.blocks,
		c.ops, c.rejects, c.evicted, c.expired, c.state,
		c.attempts, c.pending, c.running, c.bytes,
	} {
		ch <- d
	}
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.DB != nil {
		c.collectDB(ch, c.src.DB.Stats())
	}
	if c.src.Traversal != nil {
		c.collectTraversal(ch, c.src.Traversal.Stats())
	}
	if c.src.Bandwidth != nil {
		for t, s := range c.src.Bandwidth.ByType() {
			ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.TotalIn), "in", t.String())
			ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.TotalOut), "out", t.String())
		}
	}
}

func (c *Collector) collectDB(ch chan<- prometheus.Metric, s dhtdb.Snapshot) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.keys, float64(s.Keys))
	gauge(c.values, float64(s.OwnedValues), "owned")
	gauge(c.values, float64(s.DirectValues), "direct")
	gauge(c.values, float64(s.IndirectValues), "indirect")
	gauge(c.size, float64(s.TotalSize))
	gauge(c.diversified, float64(s.DivFrequencyKeys), "frequency")
	gauge(c.diversified, float64(s.DivSizeKeys), "size")
	gauge(c.blocks, float64(s.Blocks))
	gauge(c.state, boolValue(s.Sleeping), "sleeping")
	gauge(c.state, boolValue(s.Suspended), "suspended")

	counter(c.ops, s.Stores, "store")
	counter(c.ops, s.Lookups, "lookup")
	counter(c.ops, s.Removes, "remove")
	counter(c.rejects, s.SizeRejects, "size")
	counter(c.rejects, s.RateLimited, "rate")
	counter(c.rejects, s.IPCapped, "ip_values")
	counter(c.evicted, s.Evicted)
	counter(c.expired, s.Expired)
}

func (c *Collector) collectTraversal(ch chan<- prometheus.Metric, s traversal.Stats) {
	for result, v := range map[string]uint64{
		"succeeded":  s.Succeeded,
		"failed":     s.Failed,
		"disabled":   s.Disabled,
		"cancelled":  s.Cancelled,
		"queue_full": s.QueueFull,
	} {
		ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(v), result)
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(s.Running))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ prometheus.Collector = (*Collector)(nil)
