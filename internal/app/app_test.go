package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrad/internal/op"
	"github.com/vk/flowgrad/internal/tensor"
	"github.com/zclconf/go-cty/cty"
)

// splitKind returns its input and its negation.
type splitKind struct{}

func (splitKind) Name() string    { return "split" }
func (splitKind) NumInputs() int  { return 1 }
func (splitKind) NumOutputs() int { return 2 }
func (splitKind) Infer(in []tensor.Meta) ([]tensor.Meta, error) {
	return []tensor.Meta{in[0], in[0]}, nil
}
func (splitKind) New(op.Config) op.Operator { return splitOp{} }

type splitOp struct{}

func (splitOp) Compute(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	neg := in[0].Clone()
	for i := range neg.Data() {
		neg.Data()[i] = -neg.Data()[i]
	}
	return []*tensor.Tensor{in[0].Clone(), neg}, nil
}

// failKind always fails at compute time.
type failKind struct{}

func (failKind) Name() string                                  { return "fail" }
func (failKind) NumInputs() int                                { return 1 }
func (failKind) NumOutputs() int                               { return 1 }
func (failKind) Infer(in []tensor.Meta) ([]tensor.Meta, error) { return in, nil }
func (failKind) New(op.Config) op.Operator                     { return failKind{} }
func (failKind) Compute([]*tensor.Tensor) ([]*tensor.Tensor, error) {
	return nil, errors.New("kaboom")
}

// blockKind copies its input once gate is closed.
type blockKind struct{ gate <-chan struct{} }

func (blockKind) Name() string                                  { return "block" }
func (blockKind) NumInputs() int                                { return 1 }
func (blockKind) NumOutputs() int                               { return 1 }
func (blockKind) Infer(in []tensor.Meta) ([]tensor.Meta, error) { return in, nil }
func (k blockKind) New(op.Config) op.Operator                   { return k }
func (k blockKind) Compute(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	<-k.gate
	return []*tensor.Tensor{in[0].Clone()}, nil
}

func testRegistry() *op.Registry {
	r := op.DefaultRegistry()
	r.Register("split", func(map[string]cty.Value) (op.Kind, error) { return splitKind{}, nil })
	r.Register("fail", func(map[string]cty.Value) (op.Kind, error) { return failKind{}, nil })
	return r
}

const addGraph = `
tensor "a" {
  shape             = [10]
  fill              = 2
  requires_gradient = true
}

tensor "b" {
  shape = [10]
  fill  = 2
}

op "cadd" "c" {
  inputs        = [tensor.a, tensor.b]
  allow_inplace = [false, false]
}
`

func TestRun_AddsTensors(t *testing.T) {
	testApp, out := SetupAppTest(t, addGraph, Config{}, nil)

	require.NoError(t, testApp.Run(context.Background()))
	assert.Contains(t, out.String(), "op.c = tensor(float64, shape=[10], data=[4 4 4 4 4 4 4 4 4 4]) requires_gradient=true")
	assert.Contains(t, out.String(), "Execution finished.")
}

func TestRun_InplaceChain(t *testing.T) {
	src := addGraph + `
op "cadd" "d" {
  inputs        = [op.c, tensor.b]
  allow_inplace = [true, false]
  alpha         = 0.5
}
`
	testApp, out := SetupAppTest(t, src, Config{WorkerCount: 2}, nil)

	require.NoError(t, testApp.Run(context.Background()))
	assert.Contains(t, out.String(), "op.c = <donated>")
	assert.Contains(t, out.String(), "op.d = tensor(float64, shape=[10], data=[5 5 5 5 5 5 5 5 5 5]) requires_gradient=true")
}

func TestRun_MultipleOutputs(t *testing.T) {
	src := `
tensor "a" {
  shape = [3]
  data  = [1, 2, 3]
}
op "split" "s" { inputs = [tensor.a] }
op "cadd" "z" { inputs = [op.s[0], op.s[1]] }
`
	testApp, out := SetupAppTest(t, src, Config{}, testRegistry())

	require.NoError(t, testApp.Run(context.Background()))
	assert.Contains(t, out.String(), "op.s = tensor(float64, shape=[3], data=[1 2 3]) requires_gradient=false")
	assert.Contains(t, out.String(), "op.s[1] = tensor(float64, shape=[3], data=[-1 -2 -3]) requires_gradient=false")
	assert.Contains(t, out.String(), "op.z = tensor(float64, shape=[3], data=[0 0 0]) requires_gradient=false")
}

func TestRun_ComputeFailure(t *testing.T) {
	src := `
tensor "a" {
  shape = [2]
  fill  = 1
}
op "fail" "f" { inputs = [tensor.a] }
op "cadd" "g" { inputs = [op.f, tensor.a] }
`
	testApp, out := SetupAppTest(t, src, Config{}, testRegistry())

	err := testApp.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution failed")
	assert.Contains(t, err.Error(), "kaboom")
	assert.Contains(t, out.String(), "op.f = <error:")
	assert.Contains(t, out.String(), "op.g = <error:")
	assert.Contains(t, out.String(), "skipped due to upstream failure")
}

func TestRun_StopsWaitingWhenCanceled(t *testing.T) {
	src := `
tensor "a" {
  shape = [2]
  fill  = 1
}
op "block" "b" { inputs = [tensor.a] }
`
	testCases := []struct {
		name   string
		cancel func(context.CancelFunc)
	}{
		{name: "already canceled", cancel: func(cancel context.CancelFunc) { cancel() }},
		{name: "canceled while waiting", cancel: func(cancel context.CancelFunc) { time.AfterFunc(50*time.Millisecond, cancel) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gate := make(chan struct{})
			t.Cleanup(func() { close(gate) })
			registry := testRegistry()
			registry.Register("block", func(map[string]cty.Value) (op.Kind, error) { return blockKind{gate: gate}, nil })
			testApp, _ := SetupAppTest(t, src, Config{ReadTimeout: time.Minute}, registry)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tc.cancel(cancel)

			start := time.Now()
			err := testApp.Run(ctx)
			require.ErrorIs(t, err, context.Canceled)
			assert.Less(t, time.Since(start), 5*time.Second, "Run should return once ctx is canceled")
		})
	}
}

func TestRun_BuildErrors(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name: "unknown operator",
			src: `
tensor "a" {
  shape = [1]
}
op "matmul" "m" { inputs = [tensor.a, tensor.a] }
`,
			wantErr: `unknown operator "matmul"`,
		},
		{
			name: "shape mismatch",
			src: `
tensor "a" {
  shape = [1]
}
tensor "b" {
  shape = [2]
}
op "cadd" "c" { inputs = [tensor.a, tensor.b] }
`,
			wantErr: "shapes differ",
		},
		{
			name: "output index out of range",
			src: `
tensor "a" {
  shape = [1]
}
op "cadd" "c" { inputs = [tensor.a, tensor.a] }
op "cadd" "d" { inputs = [op.c[1], tensor.a] }
`,
			wantErr: "out of range",
		},
		{
			name: "bad alpha",
			src: `
tensor "a" {
  shape = [1]
}
op "cadd" "c" {
  inputs = [tensor.a, tensor.a]
  alpha  = "big"
}
`,
			wantErr: "alpha",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			testApp, _ := SetupAppTest(t, tc.src, Config{}, nil)
			err := testApp.Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to build graph")
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewApp_PanicsOnInvalidFile(t *testing.T) {
	cfg := &Config{GraphPath: WriteGraphFile(t, `tensor "a" {`)}
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.Contains(t, err.Error(), "failed to load graph")
	}()
	NewApp(&SafeBuffer{}, cfg, nil)
}

func TestEngineSettings(t *testing.T) {
	src := `
engine {
  workers      = 3
  read_timeout = "2s"
}
`
	t.Run("graph file values", func(t *testing.T) {
		testApp, _ := SetupAppTest(t, src, Config{}, nil)
		workers, timeout := testApp.engineSettings()
		assert.Equal(t, 3, workers)
		assert.Equal(t, 2*time.Second, timeout)
	})

	t.Run("cli overrides", func(t *testing.T) {
		testApp, _ := SetupAppTest(t, src, Config{WorkerCount: 7, ReadTimeout: time.Minute}, nil)
		workers, timeout := testApp.engineSettings()
		assert.Equal(t, 7, workers)
		assert.Equal(t, time.Minute, timeout)
	})

	t.Run("defaults", func(t *testing.T) {
		testApp, _ := SetupAppTest(t, "", Config{}, nil)
		workers, timeout := testApp.engineSettings()
		assert.Equal(t, 0, workers)
		assert.Equal(t, DefaultReadTimeout, timeout)
	})
}

func TestServerMux(t *testing.T) {
	testApp, _ := SetupAppTest(t, addGraph, Config{}, nil)
	require.NoError(t, testApp.Run(context.Background()))
	mux := testApp.serverMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `flowgrad_dispatch_total{op="cadd"} 1`)
	assert.Contains(t, body, `flowgrad_compute_total{op="cadd",status="completed"} 1`)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.Error(t, err)

	_, err = NewConfig(Config{GraphPath: "g.hcl", WorkerCount: -1})
	assert.Error(t, err)

	_, err = NewConfig(Config{GraphPath: "g.hcl", ReadTimeout: -time.Second})
	assert.Error(t, err)

	_, err = NewConfig(Config{GraphPath: "g.hcl", MetricsPort: 70000})
	assert.Error(t, err)

	cfg, err := NewConfig(Config{GraphPath: "g.hcl", WorkerCount: 2})
	require.NoError(t, err)
	assert.Equal(t, "g.hcl", cfg.GraphPath)
	assert.Equal(t, 2, cfg.WorkerCount)
}

func TestNewLogger(t *testing.T) {
	var buf SafeBuffer
	logger := newLogger("warn", "json", &buf)
	logger.Info("Hidden.")
	logger.Warn("Shown.", "key", "value")

	assert.NotContains(t, buf.String(), "Hidden.")
	assert.Contains(t, buf.String(), `"msg":"Shown."`)
	assert.Contains(t, buf.String(), `"key":"value"`)
}
