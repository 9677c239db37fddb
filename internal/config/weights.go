package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Weights are the product-tunable utility weights applied by the scorer.
// They are loaded at startup and hot-reloadable from a YAML file.
type Weights struct {
	Auth          float64            `yaml:"auth"`
	FeeBps        float64            `yaml:"fee_bps"`
	FixedFee      float64            `yaml:"fixed_fee"`
	ThreeDSBonus  float64            `yaml:"threeds_bonus"`
	RiskPenalty   float64            `yaml:"risk_penalty"`
	YellowPenalty float64            `yaml:"yellow_penalty"`
	BusinessBias  float64            `yaml:"business_bias"`
	BiasByPSP     map[string]float64 `yaml:"bias_by_psp"`
}

// DefaultWeights returns the documented default weights. Business bias
// defaults to a zero table, so it contributes nothing until configured.
func DefaultWeights() Weights {
	return Weights{
		Auth:          1.0,
		FeeBps:        1.0,
		FixedFee:      1.0,
		ThreeDSBonus:  0.05,
		RiskPenalty:   0.001,
		YellowPenalty: 0.05,
		BusinessBias:  1.0,
		BiasByPSP:     map[string]float64{},
	}
}

// BiasFor returns the configured business bias for a PSP, zero when absent.
func (w Weights) BiasFor(psp string) float64 {
	return w.BiasByPSP[psp]
}

// WeightsProvider hands out the current weights snapshot. Reloads swap the
// snapshot atomically so in-flight decisions keep a consistent view.
type WeightsProvider struct {
	current atomic.Pointer[Weights]
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWeightsProvider creates a provider initialized to the default weights.
func NewWeightsProvider(logger *zap.Logger) *WeightsProvider {
	p := &WeightsProvider{logger: logger}
	w := DefaultWeights()
	p.current.Store(&w)
	return p
}

// Current returns the weights snapshot in effect right now.
func (p *WeightsProvider) Current() Weights {
	return *p.current.Load()
}

// LoadFile parses the weights file and swaps it in. Keys absent from the
// file keep their default values.
func (p *WeightsProvider) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read weights file: %w", err)
	}
	w := DefaultWeights()
	if err := yaml.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("parse weights file: %w", err)
	}
	if w.BiasByPSP == nil {
		w.BiasByPSP = map[string]float64{}
	}
	p.current.Store(&w)
	p.logger.Info("weights_loaded", zap.String("path", path))
	return nil
}

// Watch loads the file and then reloads it whenever it changes on disk.
// Files updated by rename-swap (the common atomic write pattern) are
// handled by watching the parent directory. Call Close to stop watching.
func (p *WeightsProvider) Watch(path string) error {
	if err := p.LoadFile(path); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create weights watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch weights dir: %w", err)
	}
	p.watcher = watcher
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := p.LoadFile(path); err != nil {
					p.logger.Warn("weights_reload_failed",
						zap.String("path", path),
						zap.Error(err),
					)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("weights_watcher_error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running.
func (p *WeightsProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	<-p.done
	return err
}
