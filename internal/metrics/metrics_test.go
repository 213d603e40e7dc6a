package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/uber-go/tally/v4"

	logx "taskcycle/pkg/logx"
)

func TestDisabledIsNoop(t *testing.T) {
	scope, closer := New(Config{}, logx.Nop())
	if scope != tally.NoopScope {
		t.Fatalf("expected noop scope")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLogReporterFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	scope, closer := New(Config{Enabled: true, Prefix: "tc", Interval: time.Hour}, logx.NewWriter(&buf, "debug"))

	scope.Tagged(map[string]string{"b": "2", "a": "1"}).Counter("sweep.activated").Inc(3)
	scope.Counter("sweep.failed").Inc(0)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"name":"tc.sweep.activated"`) || !strings.Contains(out, `"tags":"a=1,b=2"`) {
		t.Fatalf("counter not reported: %s", out)
	}
	if strings.Contains(out, "sweep.failed") {
		t.Fatalf("zero counter reported: %s", out)
	}
}

func TestFormatTags(t *testing.T) {
	if got := formatTags(nil); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := formatTags(map[string]string{"z": "1", "k": "v"}); got != "k=v,z=1" {
		t.Fatalf("got %q", got)
	}
}
