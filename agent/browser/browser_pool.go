package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolClosed 池已关闭
var ErrPoolClosed = errors.New("browser pool is closed")

// PageFactory 创建新的页面视图
type PageFactory func(ctx context.Context) (PageView, error)

// BrowserPoolConfig 浏览器池配置
type BrowserPoolConfig struct {
	MaxSize int `json:"max_size"`
	MinIdle int `json:"min_idle"`
}

// BrowserPool 页面视图池. 并行循环中每个 worker 独占一个 PageView.
type BrowserPool struct {
	factory   PageFactory
	pool      chan PageView
	active    map[PageView]bool
	maxSize   int
	logger    *zap.Logger
	mu        sync.Mutex
	closeOnce sync.Once
	closed    bool
}

// NewBrowserPool 创建浏览器池并预创建 MinIdle 个实例
func NewBrowserPool(ctx context.Context, config BrowserPoolConfig, factory PageFactory, logger *zap.Logger) (*BrowserPool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 1
	}
	if config.MinIdle > config.MaxSize {
		config.MinIdle = config.MaxSize
	}

	pool := &BrowserPool{
		factory: factory,
		pool:    make(chan PageView, config.MaxSize),
		active:  make(map[PageView]bool),
		maxSize: config.MaxSize,
		logger:  logger.With(zap.String("component", "browser_pool")),
	}

	for i := 0; i < config.MinIdle; i++ {
		page, err := factory(ctx)
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("failed to pre-create page %d: %w", i, err)
		}
		pool.pool <- page
	}

	pool.logger.Info("browser pool created",
		zap.Int("max_size", config.MaxSize),
		zap.Int("min_idle", config.MinIdle))
	return pool, nil
}

// Acquire 获取一个页面视图, 池满时阻塞直到有实例归还或 ctx 结束
func (p *BrowserPool) Acquire(ctx context.Context) (PageView, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	select {
	case page := <-p.pool:
		p.active[page] = true
		p.mu.Unlock()
		return page, nil
	default:
	}

	if len(p.active)+len(p.pool) < p.maxSize {
		// 先占位, 防止并发创建超过上限
		placeholder := &reservation{}
		p.active[placeholder] = true
		p.mu.Unlock()

		page, err := p.factory(ctx)

		p.mu.Lock()
		delete(p.active, placeholder)
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
		if p.closed {
			p.mu.Unlock()
			_ = page.Close()
			return nil, ErrPoolClosed
		}
		p.active[page] = true
		p.mu.Unlock()
		p.logger.Debug("created new page instance")
		return page, nil
	}
	p.mu.Unlock()

	p.logger.Debug("pool exhausted, waiting for available page")
	select {
	case page, ok := <-p.pool:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.active[page] = true
		p.mu.Unlock()
		return page, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release 归还页面视图
func (p *BrowserPool) Release(page PageView) {
	if page == nil {
		return
	}
	p.mu.Lock()
	delete(p.active, page)

	if p.closed {
		p.mu.Unlock()
		_ = page.Close()
		return
	}

	// 在锁内放回, 防止 Close() 关闭 channel 后发送导致 panic
	select {
	case p.pool <- page:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		_ = page.Close()
		p.logger.Debug("pool full, closing excess page")
	}
}

// Close 关闭池中所有实例
func (p *BrowserPool) Close() error {
	p.mu.Lock()
	p.closed = true
	for page := range p.active {
		_ = page.Close()
	}
	p.active = make(map[PageView]bool)
	p.closeOnce.Do(func() { close(p.pool) })
	p.mu.Unlock()

	for page := range p.pool {
		_ = page.Close()
	}

	p.logger.Info("browser pool closed")
	return nil
}

// Stats 返回池统计信息
func (p *BrowserPool) Stats() (idle, active, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle = len(p.pool)
	active = len(p.active)
	total = idle + active
	return
}

// reservation 是创建中的占位实例, 只用于计数
type reservation struct{ PageView }

func (r *reservation) Close() error { return nil }
