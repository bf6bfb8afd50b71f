package service

import (
	"context"
	"fmt"
	"time"

	adapterredis "github.com/nimbuscrm/nimbus/internal/adapter/redis"
	"github.com/nimbuscrm/nimbus/internal/port/events"
	"github.com/nimbuscrm/nimbus/internal/port/kv"
)

const dedupPrefix = "dedup:"

// DedupEngine suppresses duplicate events using the same rotating
// dual-bucket probe the login guard builds on, under its own key namespace.
// The scope partitions unrelated event streams.
type DedupEngine struct {
	scripts kv.ScriptRunner
	ttl     time.Duration
}

// NewDedupEngine creates a DedupEngine. ttl bounds how long the current
// bucket retains items between rotations.
func NewDedupEngine(scripts kv.ScriptRunner, ttl time.Duration) *DedupEngine {
	return &DedupEngine{scripts: scripts, ttl: ttl}
}

// Seen reports whether item was already recorded in this rotation window
// for scope, recording it when it was not. The probe and the insert are one
// atomic unit, so two concurrent probes of a fresh item yield exactly one
// "not seen".
func (d *DedupEngine) Seen(ctx context.Context, scope, item string) (bool, error) {
	res, err := d.scripts.Run(ctx, adapterredis.ScriptDualBucket,
		[]string{dedupPrefix + scope + ":current", dedupPrefix + scope + ":previous"},
		item,
		fmt.Sprintf("%d", int(d.ttl.Seconds())),
	)
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected dedup reply %T", res)
	}
	return n == 1, nil
}

// DedupSink wraps next so repeated events for the same identity within the
// rotation window are reported once. The probe runs off the request path;
// when it fails the event is forwarded anyway, suppression is best effort.
func DedupSink(next events.Sink, d *DedupEngine) events.Sink {
	return events.SinkFunc(func(ev events.Event) {
		if ev.Identity == "" {
			next.Report(ev)
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			seen, err := d.Seen(ctx, "event:"+string(ev.Kind), ev.Namespace+":"+ev.Identity)
			if err != nil || !seen {
				next.Report(ev)
			}
		}()
	})
}
