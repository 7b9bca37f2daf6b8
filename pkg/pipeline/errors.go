package pipeline

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrPipelineMustBeSet  = errors.New("p must be set")
	ErrInputMustBeSet     = errors.New("input must be set")
	ErrAlgorithmMustBeSet = errors.New("algorithm must be set")
	ErrSinkMustBeSet      = errors.New("sink must be set")
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
)

type errorChans struct {
	mu   sync.Mutex
	list []*errorChan
}

func (ec *errorChans) add(errChan *errorChan) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.list = append(ec.list, errChan)
}

func (ec *errorChans) all() []*errorChan {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]*errorChan(nil), ec.list...)
}

// errorChan is the error output of one step, labelled with the step name.
type errorChan struct {
	c    <-chan error
	name string
}

func newErrorChan(name string, c <-chan error) *errorChan {
	return &errorChan{
		c:    c,
		name: name,
	}
}

// mergeErrors fans the step error channels into one. The output is buffered
// with one slot per step so that no step blocks once the reader has stopped.
func mergeErrors(cs ...*errorChan) <-chan error {
	var wg sync.WaitGroup
	out := make(chan error, len(cs))

	output := func(c *errorChan) {
		defer wg.Done()
		if c.c == nil {
			return
		}
		for n := range c.c {
			out <- errors.Wrap(n, c.name)
		}
	}
	wg.Add(len(cs))
	for _, c := range cs {
		go output(c)
	}

	// close once every step channel is drained; must start after wg.Add
	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
