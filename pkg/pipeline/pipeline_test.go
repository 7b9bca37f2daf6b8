package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-cmodel/pkg/pipeline"
	"github.com/askiada/go-cmodel/pkg/pipeline/model"
)

func rootFn(total int) func(ctx context.Context, rootChan chan<- int) error {
	return func(ctx context.Context, rootChan chan<- int) error {
		for i := range total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rootChan <- i:
			}
		}
		return nil
	}
}

// recordingOption counts the hooks the pipeline calls.
type recordingOption struct {
	mu       sync.Mutex
	calls    map[string]int
	parents  map[string]string
	sources  int
	finished bool
	failOn   string
}

func newRecordingOption() *recordingOption {
	return &recordingOption{calls: map[string]int{}, parents: map[string]string{}}
}

func (r *recordingOption) record(hook string, parent, step *model.StepInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[hook]++
	if parent != nil && step != nil {
		r.parents[step.Name] = parent.Name
	}
	if hook == r.failOn {
		return assert.AnError
	}
	return nil
}

func (r *recordingOption) New() error { return r.record("new", nil, nil) }

func (r *recordingOption) PrepareStep(parent, step *model.StepInfo) error {
	return r.record("prepare_step", parent, step)
}

func (r *recordingOption) OnStepOutput(parent, step *model.StepInfo, _, _ time.Duration) error {
	return r.record("step_output", parent, step)
}

func (r *recordingOption) PrepareSink(parent, step *model.StepInfo) error {
	return r.record("prepare_sink", parent, step)
}

func (r *recordingOption) OnSinkOutput(parent, step *model.StepInfo, _, _ time.Duration) error {
	return r.record("sink_output", parent, step)
}

func (r *recordingOption) AfterSink(_ *model.StepInfo, _ time.Duration) error {
	return r.record("after_sink", nil, nil)
}

func (r *recordingOption) OnSource(_ *model.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources++
	return nil
}

func (r *recordingOption) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	return nil
}

func TestAddRootStepNilPipe(t *testing.T) {
	t.Parallel()

	_, err := pipeline.AddRootStep(nil, "root step", rootFn(10))
	require.ErrorIs(t, err, pipeline.ErrPipelineMustBeSet)
}

func TestAddStepOneToOneNilPipe(t *testing.T) {
	t.Parallel()

	_, err := pipeline.AddStepOneToOne(nil, "step", &model.Step[int]{}, func(_ context.Context, i int) (int, error) {
		return i, nil
	})
	require.ErrorIs(t, err, pipeline.ErrPipelineMustBeSet)
}

func TestAddStepOneToOneNilInput(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(t.Context())
	require.NoError(t, err)

	_, err = pipeline.AddStepOneToOne[int, int](pipe, "step", nil, func(_ context.Context, i int) (int, error) {
		return i, nil
	})
	require.ErrorIs(t, err, pipeline.ErrInputMustBeSet)
	require.NoError(t, pipe.Run())
}

func TestAddSinkNilInput(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(t.Context())
	require.NoError(t, err)

	err = pipeline.AddSink[int](pipe, "sink", nil, func(_ context.Context, _ int) error {
		return nil
	})
	require.ErrorIs(t, err, pipeline.ErrInputMustBeSet)
	require.NoError(t, pipe.Run())
}

func TestSimplePipeline(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		concurrent int
	}{
		"sequential":    {concurrent: 1},
		"concurrent 4":  {concurrent: 4},
		"concurrent 20": {concurrent: 20},
	}

	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opt := newRecordingOption()
			pipe, err := pipeline.New(t.Context(), opt)
			require.NoError(t, err)

			root, err := pipeline.AddRootStep(pipe, "root", rootFn(20))
			require.NoError(t, err)

			squared, err := pipeline.AddStepOneToOne(pipe, "square", root, func(_ context.Context, i int) (int, error) {
				return i * i, nil
			}, pipeline.StepConcurrency[int](tc.concurrent))
			require.NoError(t, err)

			var got []int
			err = pipeline.AddSink(pipe, "sink", squared, func(_ context.Context, i int) error {
				got = append(got, i)
				return nil
			})
			require.NoError(t, err)

			require.NoError(t, pipe.Run())

			want := make([]int, 20)
			for i := range want {
				want[i] = i * i
			}
			assert.ElementsMatch(t, want, got)

			assert.Equal(t, 1, opt.calls["new"])
			assert.Equal(t, 2, opt.calls["prepare_step"])
			assert.Equal(t, 20, opt.calls["step_output"])
			assert.Equal(t, 1, opt.calls["prepare_sink"])
			assert.Equal(t, 20, opt.calls["sink_output"])
			assert.Equal(t, 1, opt.calls["after_sink"])
			assert.Equal(t, map[string]string{"root": "start", "square": "root", "sink": "square"}, opt.parents)
			assert.True(t, opt.finished)
		})
	}
}

func TestAddRootStepError(t *testing.T) {
	t.Parallel()

	opt := newRecordingOption()
	pipe, err := pipeline.New(t.Context(), opt)
	require.NoError(t, err)

	root, err := pipeline.AddRootStep(pipe, "root", func(ctx context.Context, rootChan chan<- int) error {
		for i := range 10 {
			if i == 5 {
				return assert.AnError
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rootChan <- i:
			}
		}
		return nil
	})
	require.NoError(t, err)

	var got []int
	err = pipeline.AddSink(pipe, "sink", root, func(_ context.Context, i int) error {
		got = append(got, i)
		return nil
	})
	require.NoError(t, err)

	err = pipe.Run()
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "root")
	assert.Subset(t, []int{0, 1, 2, 3, 4}, got)
	assert.False(t, opt.finished)
}

func TestStepErrorStopsPipeline(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(t.Context())
	require.NoError(t, err)

	root, err := pipeline.AddRootStep(pipe, "root", rootFn(1000))
	require.NoError(t, err)

	step, err := pipeline.AddStepOneToOne(pipe, "step", root, func(_ context.Context, i int) (int, error) {
		if i == 10 {
			return 0, assert.AnError
		}
		return i, nil
	}, pipeline.StepConcurrency[int](3))
	require.NoError(t, err)

	var total int
	err = pipeline.AddSink(pipe, "sink", step, func(_ context.Context, _ int) error {
		total++
		return nil
	})
	require.NoError(t, err)

	err = pipe.Run()
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "step")
	assert.Less(t, total, 1000)
}

func TestSinkErrorStopsPipeline(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(t.Context())
	require.NoError(t, err)

	root, err := pipeline.AddRootStep(pipe, "root", rootFn(1000))
	require.NoError(t, err)

	err = pipeline.AddSink(pipe, "sink", root, func(_ context.Context, i int) error {
		if i == 3 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)

	err = pipe.Run()
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "sink")
}

func TestPipelineCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	pipe, err := pipeline.New(ctx)
	require.NoError(t, err)

	root, err := pipeline.AddRootStep(pipe, "root", rootFn(1000))
	require.NoError(t, err)

	err = pipeline.AddSink(pipe, "sink", root, func(_ context.Context, i int) error {
		if i == 5 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)

	require.ErrorIs(t, pipe.Run(), context.Canceled)
}

func TestOptionErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		failOn string
	}{
		"new":          {failOn: "new"},
		"prepare step": {failOn: "prepare_step"},
		"step output":  {failOn: "step_output"},
		"prepare sink": {failOn: "prepare_sink"},
		"sink output":  {failOn: "sink_output"},
		"after sink":   {failOn: "after_sink"},
	}

	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opt := newRecordingOption()
			opt.failOn = tc.failOn

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			err := func() error {
				pipe, err := pipeline.New(ctx, opt)
				if err != nil {
					return err
				}
				root, err := pipeline.AddRootStep(pipe, "root", rootFn(10))
				if err != nil {
					return err
				}
				step, err := pipeline.AddStepOneToOne(pipe, "step", root, func(_ context.Context, i int) (int, error) {
					return i, nil
				})
				if err != nil {
					cancel()
					_ = pipe.Run()
					return err
				}
				err = pipeline.AddSink(pipe, "sink", step, func(_ context.Context, _ int) error {
					return nil
				})
				if err != nil {
					cancel()
					_ = pipe.Run()
					return err
				}
				return pipe.Run()
			}()
			require.ErrorIs(t, err, assert.AnError)
		})
	}
}
