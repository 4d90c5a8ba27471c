package llmport

import "context"

// StubClient is a scripted Port for tests — each call to Generate returns
// the next queued response (or the last one, repeated, once exhausted).
type StubClient struct {
	Responses [][]Chunk
	calls     int
}

// Generate returns the next scripted response as a closed, pre-filled channel.
func (s *StubClient) Generate(_ context.Context, _ GenerateInput) (<-chan Chunk, error) {
	idx := s.calls
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	s.calls++

	ch := make(chan Chunk, len(s.Responses[idx]))
	for _, c := range s.Responses[idx] {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// CallCount reports how many times Generate was invoked.
func (s *StubClient) CallCount() int { return s.calls }

var _ Port = (*StubClient)(nil)
