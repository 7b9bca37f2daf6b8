package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-cmodel/pkg/pipeline/model"
)

func newTestStep(concurrent int) *model.Step[int] {
	return &model.Step[int]{
		Output:  make(chan int),
		Details: &model.StepInfo{Type: model.NormalStepType, Name: "output", Concurrent: concurrent},
	}
}

func TestOneToOne(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		concurrent int
	}{
		"sequential":     {concurrent: 1},
		"concurrent 2":   {concurrent: 2},
		"concurrent 100": {concurrent: 100},
	}

	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			input := &model.Step[int]{Output: createInputChan(t, ctx, 10)}
			output := newTestStep(tc.concurrent)
			got := make(chan []int, 1)

			go func() {
				got <- processOutputChan(t, output.Output)
			}()

			errC := make(chan error, 1)
			go func() {
				defer close(output.Output)
				errC <- oneToOne(ctx, &Pipeline{}, parentInfo(input), input, output, func(_ context.Context, i int) (int, error) {
					return 2 * i, nil
				})
			}()

			assert.ElementsMatch(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, <-got)
			require.NoError(t, <-errC)
		})
	}
}

func TestOneToOneCancelInput(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		concurrent int
	}{
		"sequential":     {concurrent: 1},
		"concurrent 2":   {concurrent: 2},
		"concurrent 100": {concurrent: 100},
	}

	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			input := &model.Step[int]{Output: createInputChanWithCancel(t, ctx, 10, 5, cancel)}
			output := newTestStep(tc.concurrent)
			got := make(chan []int, 1)

			go func() {
				got <- processOutputChan(t, output.Output)
			}()

			errC := make(chan error, 1)
			go func() {
				defer close(output.Output)
				errC <- oneToOne(ctx, &Pipeline{}, parentInfo(input), input, output, func(_ context.Context, i int) (int, error) {
					return i, nil
				})
			}()

			assert.LessOrEqual(t, len(<-got), 5)
			// the closed input may be seen before the cancellation
			if err := <-errC; err != nil {
				require.ErrorIs(t, err, context.Canceled)
			}
		})
	}
}

func TestOneToOneError(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		concurrent int
	}{
		"sequential":     {concurrent: 1},
		"concurrent 2":   {concurrent: 2},
		"concurrent 100": {concurrent: 100},
	}

	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			input := &model.Step[int]{Output: createInputChan(t, ctx, 10)}
			output := newTestStep(tc.concurrent)
			got := make(chan []int, 1)

			go func() {
				got <- processOutputChan(t, output.Output)
			}()

			errC := make(chan error, 1)
			go func() {
				defer close(output.Output)
				errC <- oneToOne(ctx, &Pipeline{}, parentInfo(input), input, output, func(_ context.Context, i int) (int, error) {
					if i == 3 {
						return 0, assert.AnError
					}
					return i, nil
				})
			}()

			assert.NotContains(t, <-got, 3)
			require.ErrorIs(t, <-errC, assert.AnError)
			// unblock the producer once the step stopped reading
			cancel()
		})
	}
}

func TestParentInfo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.StartStep.Details, parentInfo(&model.Step[int]{}))

	details := &model.StepInfo{Name: "parent"}
	assert.Equal(t, details, parentInfo(&model.Step[int]{Details: details}))
}

func TestPrepareStepInvalidConcurrency(t *testing.T) {
	t.Parallel()

	_, err := prepareStep(&Pipeline{}, "step", &model.Step[int]{}, StepConcurrency[int](0))
	require.ErrorIs(t, err, ErrInvalidConcurrency)
}
