package metrics

import (
	"net/http"
	"time"
)

// Exporter exposes metrics via HTTP
type Exporter struct {
	collector *Collector
	server    *http.Server
	stop      chan struct{}
}

// NewExporter creates a metrics exporter listening on addr.
func NewExporter(addr string) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	return &Exporter{
		collector: NewCollector(),
		server:    &http.Server{Addr: addr, Handler: mux},
		stop:      make(chan struct{}),
	}
}

// Start serves the scrape endpoint and refreshes sampled gauges every 15s.
// It blocks until Stop is called.
func (e *Exporter) Start() error {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		e.collector.Collect()
		for {
			select {
			case <-ticker.C:
				e.collector.Collect()
			case <-e.stop:
				return
			}
		}
	}()

	err := e.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the exporter
func (e *Exporter) Stop() error {
	close(e.stop)
	return e.server.Close()
}
