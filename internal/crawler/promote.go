package crawler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/metrics"
)

// FetchChain fetches statically first and re-fetches through a headless
// browser when the detector flags the probe. It satisfies Fetcher.
type FetchChain struct {
	probe    Fetcher
	headless Fetcher
	detector HeadlessDetector
	logger   *zap.Logger
}

// NewFetchChain wires a probe fetcher with an optional headless fallback.
func NewFetchChain(probe, headless Fetcher, detector HeadlessDetector, logger *zap.Logger) *FetchChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchChain{probe: probe, headless: headless, detector: detector, logger: logger}
}

// Fetch runs the probe and promotes when warranted. A failed headless render
// falls back to the probe response when the probe produced one.
func (c *FetchChain) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if c.probe == nil {
		return FetchResponse{}, errors.New("probe fetcher is required")
	}
	if req.UseHeadless && c.headless != nil {
		return c.headless.Fetch(ctx, req)
	}
	resp, probeErr := c.probe.Fetch(ctx, req)
	if c.headless == nil || c.detector == nil {
		return resp, probeErr
	}
	if probeErr != nil && resp.StatusCode == 0 {
		return resp, probeErr
	}
	if !c.detector.ShouldPromote(resp) {
		return resp, probeErr
	}

	metrics.ObservePromotion()
	c.logger.Debug("promoting to headless", zap.String("url", req.URL), zap.Int("probe_status", resp.StatusCode))
	hreq := req
	hreq.UseHeadless = true
	rendered, err := c.headless.Fetch(ctx, hreq)
	if err != nil {
		c.logger.Warn("headless render failed", zap.String("url", req.URL), zap.Error(err))
		if probeErr == nil && resp.StatusCode < 400 {
			return resp, nil
		}
		return FetchResponse{}, err
	}
	return rendered, nil
}
