package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/types"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间
	Multiplier   float64       // 延迟倍增因子, 1.0 即固定间隔
	Jitter       bool          // 是否添加随机抖动

	// Retryable 判断错误是否可重试, 为空则除 Permanent 外全部重试
	Retryable func(err error) bool
	// OnRetry 每次重试前回调
	OnRetry func(attempt int, err error, delay time.Duration)
}

// FixedPolicy 返回固定间隔的重试策略, 任务步骤重试使用此策略.
func FixedPolicy(maxRetries int, delay time.Duration) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}

// OraclePolicy 返回 LLM 调用的默认策略: 指数退避 + 抖动, 只重试标记为 Retryable 的错误.
func OraclePolicy() *Policy {
	return &Policy{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Retryable:    types.IsRetryable,
	}
}

// ExhaustedError 表示重试次数耗尽, 包装最后一次错误.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("重试 %d 次后仍失败: %v", e.Attempts-1, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记错误不可重试, Do 会立即返回原始错误.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 检查错误是否被 Permanent 包装.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retryer 按策略执行函数并在失败时重试
type Retryer struct {
	policy *Policy
	logger *zap.Logger
}

// New 创建重试器
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = OraclePolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 1.0
	}

	return &Retryer{policy: &p, logger: logger}
}

// Policy 返回生效的策略副本
func (r *Retryer) Policy() Policy { return *r.policy }

// Do 执行 fn, attempt 从 0 开始计数.
func (r *Retryer) Do(ctx context.Context, fn func(attempt int) error) error {
	_, err := Do(ctx, r, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// Do 是 Retryer.Do 的泛型版本, 返回 fn 的结果.
func Do[T any](ctx context.Context, r *Retryer, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("重试被取消: %w", err)
			}
		}

		result, err := fn(attempt)
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) {
			return zero, errors.Unwrap(err)
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("重试被取消: %w", ctx.Err())
		}
		if r.policy.Retryable != nil && !r.policy.Retryable(err) {
			r.logger.Debug("错误不可重试", zap.Error(err))
			return zero, err
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, &ExhaustedError{Attempts: r.policy.MaxRetries + 1, Err: lastErr}
}

// delay 计算第 attempt 次重试前的等待时间
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := d * 0.25
		d += (rand.Float64()*2 - 1) * jitter
	}
	if d < float64(r.policy.InitialDelay) {
		d = float64(r.policy.InitialDelay)
	}
	return time.Duration(d)
}

// sleep 等待 d, 同时监听 ctx 取消
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
