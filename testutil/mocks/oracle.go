// MockOracle 是 llm.Oracle 的脚本化测试实现。
//
// 按规则匹配提示词返回预设回复，支持顺序队列、默认回复与错误注入。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/xiaoyun172/CS-LLM-house-sub001/types"
)

// ErrNoScriptedResponse 没有匹配的规则、队列为空且未设置默认回复
var ErrNoScriptedResponse = errors.New("mock oracle: no scripted response")

// OracleCall 记录单次调用
type OracleCall struct {
	Prompt    string
	History   []types.Message
	ModelHint string
	HasImage  bool
}

type oracleRule struct {
	contains string
	response string
	err      error
	times    int // 0 表示不限次数
}

// MockOracle 是 llm.Oracle 的模拟实现
type MockOracle struct {
	mu sync.Mutex

	rules    []*oracleRule
	queue    []string
	fallback *string
	err      error
	handler  func(prompt string, hasImage bool) (string, error)

	calls []OracleCall
}

// NewMockOracle 创建没有任何脚本的 MockOracle, 未匹配时返回 ErrNoScriptedResponse
func NewMockOracle() *MockOracle {
	return &MockOracle{}
}

// --- Builder 方法 ---

// On 当提示词包含 substr 时返回 response. 先注册的规则优先.
func (m *MockOracle) On(substr, response string) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &oracleRule{contains: substr, response: response})
	return m
}

// OnTimes 与 On 相同, 但只生效 n 次
func (m *MockOracle) OnTimes(substr, response string, n int) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &oracleRule{contains: substr, response: response, times: n})
	return m
}

// OnError 当提示词包含 substr 时返回 err
func (m *MockOracle) OnError(substr string, err error) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &oracleRule{contains: substr, err: err})
	return m
}

// WithResponses 设置顺序回复队列, 在规则之后、默认回复之前使用
func (m *MockOracle) WithResponses(responses ...string) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
	return m
}

// WithDefault 设置默认回复
func (m *MockOracle) WithDefault(response string) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &response
	return m
}

// WithError 让所有未匹配规则的调用返回 err
func (m *MockOracle) WithError(err error) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithHandler 设置自定义处理函数, 优先级最高
func (m *MockOracle) WithHandler(fn func(prompt string, hasImage bool) (string, error)) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// --- Oracle 接口实现 ---

func (m *MockOracle) Generate(ctx context.Context, prompt string, history []types.Message, modelHint string) (string, error) {
	return m.respond(ctx, OracleCall{
		Prompt:    prompt,
		History:   append([]types.Message(nil), history...),
		ModelHint: modelHint,
	})
}

func (m *MockOracle) GenerateWithImage(ctx context.Context, prompt string, image []byte, modelHint string) (string, error) {
	return m.respond(ctx, OracleCall{Prompt: prompt, ModelHint: modelHint, HasImage: len(image) > 0})
}

func (m *MockOracle) respond(ctx context.Context, call OracleCall) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)

	if m.handler != nil {
		return m.handler(call.Prompt, call.HasImage)
	}

	for _, r := range m.rules {
		if r.times < 0 || !strings.Contains(call.Prompt, r.contains) {
			continue
		}
		if r.times > 0 {
			r.times--
			if r.times == 0 {
				r.times = -1
			}
		}
		return r.response, r.err
	}

	if m.err != nil {
		return "", m.err
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	if m.fallback != nil {
		return *m.fallback, nil
	}
	return "", ErrNoScriptedResponse
}

// --- 调用记录 ---

// Calls 返回所有调用记录的副本
func (m *MockOracle) Calls() []OracleCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OracleCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockOracle) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsContaining 返回提示词包含 substr 的调用次数
func (m *MockOracle) CallsContaining(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.Contains(c.Prompt, substr) {
			n++
		}
	}
	return n
}

// Reset 清空调用记录
func (m *MockOracle) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
