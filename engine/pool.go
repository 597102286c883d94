package engine

// pool bounds the number of UDF invocations running concurrently on the
// asynchronous path. It is a plain counting semaphore: tokens are held only
// for the duration of an invocation, never while waiting on another
// feature, so the pool cannot deadlock.
type pool struct {
	sem chan struct{}
}

// newPool returns a pool of the given size, or nil when size is not
// positive. A nil pool disables asynchronous execution entirely.
func newPool(size int) *pool {
	if size <= 0 {
		return nil
	}
	return &pool{sem: make(chan struct{}, size)}
}

func (p *pool) acquire() { p.sem <- struct{}{} }

func (p *pool) release() { <-p.sem }
