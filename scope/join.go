package scope

// drain is the join loop run at scope release: snapshot the pending
// queue as one batch, join it, append the outcomes, and repeat, because
// tasks joined in a batch may have submitted further tasks into the now
// fresh queue. This fully drains tree-shaped fan-out without recursion.
func (s *Scope[T]) drain() error {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return nil
		}
		batch := s.pending
		s.pending = nil
		s.joined = append(s.joined, batch...)
		s.mu.Unlock()

		outcomes, err := s.joinBatch(batch)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.results = append(s.results, outcomes...)
		s.mu.Unlock()
	}
}

// joinBatch suspends until every task in the batch is terminal. Under
// FailFast the join aborts on the first faulted member without waiting
// for the rest; the survivors are not cancelled here, that is the
// exceptional exit path's job. Under Collect every outcome is captured.
// Outcomes are ordered by admission order, not completion order.
func (s *Scope[T]) joinBatch(batch []*Task[T]) ([]Result[T], error) {
	if s.policy == Collect {
		for _, t := range batch {
			<-t.done
		}
		outcomes := make([]Result[T], 0, len(batch))
		for _, t := range batch {
			outcomes = append(outcomes, Result[T]{Value: t.value, Err: t.err})
		}
		return outcomes, nil
	}

	fault := make(chan *Task[T], 1)
	for _, t := range batch {
		t.subscribe(fault)
	}
	defer func() {
		for _, t := range batch {
			t.unsubscribe(fault)
		}
	}()

	outcomes := make([]Result[T], 0, len(batch))
	for _, t := range batch {
		select {
		case <-t.done:
			if t.err != nil {
				return nil, t.err
			}
			outcomes = append(outcomes, Result[T]{Value: t.value})
		case ft := <-fault:
			return nil, ft.err
		}
	}
	return outcomes, nil
}
