package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/uber-go/tally/v4"

	logx "taskcycle/pkg/logx"
)

// LogReporter is a tally.StatsReporter that writes each reported value as
// a debug log line. Zero-valued counters are skipped.
type LogReporter struct {
	log logx.Logger
}

var _ tally.StatsReporter = (*LogReporter)(nil)

func NewLogReporter(log logx.Logger) *LogReporter {
	return &LogReporter{log: log.With(logx.String("comp", "metrics"))}
}

func (r *LogReporter) ReportCounter(name string, tags map[string]string, value int64) {
	if value == 0 {
		return
	}
	r.log.Debug("counter", logx.String("name", name), logx.String("tags", formatTags(tags)), logx.Int64("value", value))
}

func (r *LogReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.log.Debug("gauge", logx.String("name", name), logx.String("tags", formatTags(tags)), logx.Any("value", value))
}

func (r *LogReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.log.Debug("timer", logx.String("name", name), logx.String("tags", formatTags(tags)), logx.Duration("value", interval))
}

func (r *LogReporter) ReportHistogramValueSamples(name string, tags map[string]string, _ tally.Buckets, lower, upper float64, samples int64) {
	r.log.Debug("histogram",
		logx.String("name", name),
		logx.String("tags", formatTags(tags)),
		logx.Any("lower", lower),
		logx.Any("upper", upper),
		logx.Int64("samples", samples),
	)
}

func (r *LogReporter) ReportHistogramDurationSamples(name string, tags map[string]string, _ tally.Buckets, lower, upper time.Duration, samples int64) {
	r.log.Debug("histogram",
		logx.String("name", name),
		logx.String("tags", formatTags(tags)),
		logx.Duration("lower", lower),
		logx.Duration("upper", upper),
		logx.Int64("samples", samples),
	)
}

func (r *LogReporter) Capabilities() tally.Capabilities { return capabilities{} }

func (r *LogReporter) Flush() {}

type capabilities struct{}

func (capabilities) Reporting() bool { return true }
func (capabilities) Tagging() bool   { return true }

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}
