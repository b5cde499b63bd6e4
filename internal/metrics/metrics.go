// Package metrics exports lycheefs session statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/tree"
	"github.com/lycheefs/lycheefs/pkg/vfs"
)

const namespace = "lycheefs"

// Register adds collectors reading fsys to reg. Values are sampled at
// scrape time, so nothing in the request path touches Prometheus.
func Register(reg prometheus.Registerer, fsys *vfs.FS) error {
	cs := fsys.Content()
	treeStats := func(pick func(tree.Stats) int) func() float64 {
		return func() float64 {
			t := fsys.Tree()
			if t == nil {
				return 0
			}
			return float64(pick(t.Stats()))
		}
	}

	collectors := []prometheus.Collector{
		gauge("tree_nodes", "Number of albums and photos in the current tree", func() float64 {
			if t := fsys.Tree(); t != nil {
				return float64(t.Len())
			}
			return 0
		}),
		gauge("tree_albums", "Albums in the current tree", treeStats(func(s tree.Stats) int { return s.Albums })),
		gauge("tree_photos", "Photos in the current tree", treeStats(func(s tree.Stats) int { return s.Photos })),
		gauge("tree_collisions", "Sibling names that clashed in the current tree", treeStats(func(s tree.Stats) int { return s.Collisions })),
		gauge("tree_partial_albums", "Albums left empty after a listing failure", treeStats(func(s tree.Stats) int { return s.Partial })),
		counter("tree_refreshes_total", "Successful tree builds", fsys.Stats.Refreshes.Load),
		counter("tree_refresh_failures_total", "Failed tree builds", fsys.Stats.RefreshFailures.Load),
		gauge("tree_last_refresh_seconds", "Duration of the last successful tree build", func() float64 {
			return time.Duration(fsys.Stats.LastRefreshNanos.Load()).Seconds()
		}),
		counter("content_fetches_total", "Photo downloads started", cs.Stats.Fetches.Load),
		counter("content_fetch_failures_total", "Photo downloads that failed", cs.Stats.FetchFailures.Load),
		counter("content_fetched_bytes_total", "Bytes downloaded from the remote", cs.Stats.BytesFetched.Load),
		counter("content_reads_total", "Read requests served", fsys.Stats.Reads.Load),
		counter("content_read_bytes_total", "Bytes returned to readers", fsys.Stats.BytesRead.Load),
		counter("cache_hits_total", "Opens served from the content cache", cs.Stats.CacheHits.Load),
		counter("cache_misses_total", "Opens that needed a download", cs.Stats.CacheMisses.Load),
		gauge("cache_entries", "Photos held in the content cache", func() float64 {
			return float64(fsys.CacheStats().Entries)
		}),
		gauge("cache_bytes", "Bytes held in the content cache", func() float64 {
			return float64(fsys.CacheStats().Bytes)
		}),
		gauge("cache_max_bytes", "Content cache capacity", func() float64 {
			return float64(fsys.CacheStats().MaxBytes)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Photos evicted from the content cache",
		}, func() float64 { return float64(fsys.CacheStats().Evictions) }),
		gauge("open_handles", "Open file handles", func() float64 {
			return float64(cs.Stats.OpenHandles.Load())
		}),
		counter("mutations_denied_total", "Write attempts refused", fsys.Stats.Denied.Load),
		gauge("remote_online", "1 when the remote answered the last request", func() float64 {
			if fsys.IsOnline() {
				return 1
			}
			return 0
		}),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func gauge(name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
}

func counter(name, help string, load func() int64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, func() float64 {
		return float64(load())
	})
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
