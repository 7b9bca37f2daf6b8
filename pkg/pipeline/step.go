package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/go-cmodel/pkg/pipeline/model"
)

func sequentialOneToOneFn[I any, O any](ctx context.Context, pipe *Pipeline, goIdx int, parent *model.StepInfo, input *model.Step[I], output *model.Step[O], oneToOneFn func(context.Context, I) (O, error)) error {
outer:
	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "go routine %d:", goIdx)
		case in, ok := <-input.Output:
			if !ok {
				break outer
			}
			startFn := time.Now()
			out, err := oneToOneFn(ctx, in)
			if err != nil {
				return errors.Wrapf(err, "go routine %d:", goIdx)
			}
			endFn := time.Since(startFn)

			// check the context again so that running go routines stop
			// adding elements once the pipeline is cancelled
			select {
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "go routine %d:", goIdx)
			case output.Output <- out:
			}
			for _, opt := range pipe.opts {
				err := opt.OnStepOutput(parent, output.Details, time.Since(start), endFn)
				if err != nil {
					return errors.Wrap(err, "unable to run on step output function")
				}
			}
		}
	}

	return nil
}

func concurrentOneToOneFn[I any, O any](ctx context.Context, pipe *Pipeline, parent *model.StepInfo, input *model.Step[I], output *model.Step[O], oneToOneFn func(context.Context, I) (O, error)) error {
	errGrp, dCtx := errgroup.WithContext(ctx)
	errGrp.SetLimit(output.Details.Concurrent)
	// each consumer stops as soon as one of them fails
	for goIdx := 0; goIdx < output.Details.Concurrent; goIdx++ {
		localGoIdx := goIdx
		errGrp.Go(func() error {
			return sequentialOneToOneFn(dCtx, pipe, localGoIdx, parent, input, output, oneToOneFn)
		})
	}
	return errGrp.Wait()
}

func oneToOne[I any, O any](ctx context.Context, pipe *Pipeline, parent *model.StepInfo, input *model.Step[I], output *model.Step[O], oneToOneFn func(context.Context, I) (O, error)) error {
	if output.Details.Concurrent == 1 {
		return sequentialOneToOneFn(ctx, pipe, 0, parent, input, output, oneToOneFn)
	}
	return concurrentOneToOneFn(ctx, pipe, parent, input, output, oneToOneFn)
}

// parentInfo describes input; steps built by hand in tests have no details.
func parentInfo[I any](input *model.Step[I]) *model.StepInfo {
	if input.Details == nil {
		return model.StartStep.Details
	}
	return input.Details
}

func prepareStep[I, O any](p *Pipeline, name string, input *model.Step[I], opts ...StepOption[O]) (*model.Step[O], error) {
	step := &model.Step[O]{
		Details: &model.StepInfo{
			Type:       model.NormalStepType,
			Name:       name,
			Concurrent: 1,
		},
		Output: make(chan O),
	}
	for _, opt := range opts {
		opt(step)
	}
	if step.Details.Concurrent <= 0 {
		return nil, errors.Wrapf(ErrInvalidConcurrency, "step %s", name)
	}

	for _, opt := range p.opts {
		err := opt.PrepareStep(parentInfo(input), step.Details)
		if err != nil {
			return nil, errors.Wrap(err, "unable to run before step function")
		}
	}
	return step, nil
}

// AddStepOneToOne applies oneToOneFn to every element of input, with as many
// goroutines as the step concurrency. Output order is not preserved when the
// concurrency is greater than one.
func AddStepOneToOne[I any, O any](p *Pipeline, name string, input *model.Step[I], oneToOneFn func(context.Context, I) (O, error), opts ...StepOption[O]) (*model.Step[O], error) {
	if p == nil {
		return nil, ErrPipelineMustBeSet
	}
	if input == nil {
		return nil, ErrInputMustBeSet
	}
	step, err := prepareStep(p, name, input, opts...)
	if err != nil {
		return nil, err
	}
	parent := parentInfo(input)

	errC := make(chan error, 1)
	decoratedError := newErrorChan(name, errC)
	go func() {
		defer func() {
			close(step.Output)
			close(errC)
		}()
		err := oneToOne(p.ctx, p, parent, input, step, oneToOneFn)
		if err != nil {
			errC <- err
		}
	}()
	p.errcList.add(decoratedError)

	return step, nil
}
