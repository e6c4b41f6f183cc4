package guard

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Limits are the process-wide guard defaults. Per-camera policy rows may
// override the cooldown and call cap.
type Limits struct {
	ContactCooldownS   int `yaml:"contact_cooldown_s"`
	MaxPrimaryCalls    int `yaml:"max_primary_calls"`
	MaxEscalationStage int `yaml:"max_escalation_stage"`
}

func DefaultLimits() Limits {
	return Limits{ContactCooldownS: 5, MaxPrimaryCalls: 2, MaxEscalationStage: 2}
}

// LimitsProvider serves the current limits, re-reading the YAML config when
// it changes on disk.
type LimitsProvider struct {
	mu     sync.RWMutex
	path   string
	limits Limits
}

func NewLimitsProvider(path string) *LimitsProvider {
	p := &LimitsProvider{path: path, limits: DefaultLimits()}
	if err := p.reload(); err != nil {
		log.Printf("guard: limits config %s not loaded (%v), using defaults", path, err)
	}
	return p
}

func (p *LimitsProvider) Current() Limits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limits
}

func (p *LimitsProvider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	var cfg struct {
		Guard Limits `yaml:"guard"`
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	next := cfg.Guard
	if next.ContactCooldownS <= 0 {
		next.ContactCooldownS = DefaultLimits().ContactCooldownS
	}
	if next.MaxPrimaryCalls <= 0 {
		next.MaxPrimaryCalls = DefaultLimits().MaxPrimaryCalls
	}
	if next.MaxEscalationStage <= 0 {
		next.MaxEscalationStage = DefaultLimits().MaxEscalationStage
	}

	p.mu.Lock()
	p.limits = next
	p.mu.Unlock()
	return nil
}

// StartWatcher hot-reloads the limits on file change. A 60s polling loop
// runs alongside fsnotify as a safety net for editors that replace the file.
func (p *LimitsProvider) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("guard: fsnotify unavailable (%v), polling only", err)
	} else if err := watcher.Add(p.path); err != nil {
		log.Printf("guard: cannot watch %s (%v), polling only", p.path, err)
		watcher.Close()
		watcher = nil
	}

	if watcher != nil {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond) // debounce partial writes
						if err := p.reload(); err != nil {
							log.Printf("guard: limits reload failed: %v", err)
						} else {
							log.Printf("guard: limits reloaded: %+v", p.Current())
						}
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("guard: watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.reload(); err != nil {
					log.Printf("guard: periodic limits reload failed: %v", err)
				}
			}
		}
	}()
}
