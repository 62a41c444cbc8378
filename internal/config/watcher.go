package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/pkg/circuit"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// BreakerListener 收到的 patch 包含配置文件里写出的熔断阈值，以及上次写出、本次删除的阈值（回到默认值）。
type BreakerListener func(circuit.ConfigPatch)

// Watcher 监听主配置文件及其 include 文件，变更后重新加载并把 breaker 段作为 ConfigPatch 下发。
// 其余段（限流器、锁、调度）仍需重启生效。
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	watched map[string]bool

	reloadMu sync.Mutex
	mu       sync.RWMutex
	current  *Config
	keys     keySet
	version  int

	listeners []BreakerListener

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher 以 initial 作为当前快照并开始监听 FS 事件；不再使用时必须 Close。
func NewWatcher(path string, initial *Config) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	cfg, keys, err := load(path)
	if err != nil {
		return nil, err
	}
	if initial == nil {
		initial = cfg
	}
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	w := &Watcher{
		path:    path,
		fsw:     fsw,
		watched: make(map[string]bool, len(files)),
		current: initial,
		keys:    keys,
		done:    make(chan struct{}),
	}
	// 监听目录而非文件，编辑器的“写临时文件再 rename”也能被捕获
	dirs := make(map[string]bool)
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		w.watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.watched[filepath.Clean(evt.Name)] || !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			// 合并同一次保存产生的多个事件，避免读到截断的半个文件
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Stop()
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		case <-pending:
			pending = nil
			if err := w.Reload(); err != nil {
				logger.Errorf("config reload failed (%s): %v", w.path, err)
			}
		}
	}
}

// Close 停止监听并等待后台协程退出。可重复调用。
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

// Current 返回最近一次成功加载的配置。
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Version() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

func (w *Watcher) Subscribe(fn BreakerListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Reload 重新读取配置；校验失败时保留旧快照并返回错误。
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	cfg, keys, err := load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	patch := breakerPatch(cfg.Breaker, keys, w.keys)
	w.keys = keys
	w.current = cfg
	w.version++
	version := w.version
	listeners := append([]BreakerListener(nil), w.listeners...)
	w.mu.Unlock()
	logger.Infof("Config reloaded from %s version=%d", w.path, version)
	if patch.Empty() {
		return nil
	}
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("config listener panic: %v", r)
				}
			}()
			fn(patch)
		}()
	}
	return nil
}

// breakerPatch 下发本次写出的键；上次写出而本次删除的键取 b 中已补齐的默认值。
func breakerPatch(b BreakerConfig, keys, prev keySet) circuit.ConfigPatch {
	var p circuit.ConfigPatch
	touched := func(key string) bool { return keys.isSet(key) || prev.isSet(key) }
	if touched("breaker.max_trade_notional") {
		v := b.MaxTradeNotional
		p.MaxTradeNotional = &v
	}
	if touched("breaker.daily_loss_limit_percent") {
		v := b.DailyLossLimitPercent
		p.DailyLossLimitPercent = &v
	}
	if touched("breaker.cooldown_seconds") {
		v := b.CooldownSeconds
		p.CooldownSeconds = &v
	}
	if touched("breaker.position_limit_percent") {
		v := b.PositionLimitPercent
		p.PositionLimitPercent = &v
	}
	if touched("breaker.max_daily_trades") {
		v := b.MaxDailyTrades
		p.MaxDailyTrades = &v
	}
	return p
}
