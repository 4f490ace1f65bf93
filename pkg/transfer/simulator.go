package transfer

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Simulator is an in-process Client for local development. Transfers confirm
// after ConfirmAfter status checks; destinations listed in Reject are refused
// at submission and those in Fail are accepted and later fail.
type Simulator struct {
	ConfirmAfter int
	Reject       map[string]bool
	Fail         map[string]bool

	mu        sync.Mutex
	transfers map[string]*simulatedTransfer
	byRef     map[string]string
}

type simulatedTransfer struct {
	request Request
	checks  int
	fail    bool
}

// NewSimulator returns a simulator that confirms on the first status check.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Submit records the transfer. Repeated references return the original signature.
func (s *Simulator) Submit(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validate(req); err != nil {
		return "", &RejectedError{Code: "invalid_request", Message: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	if req.Reference != "" {
		if sig, ok := s.byRef[req.Reference]; ok {
			return sig, nil
		}
	}
	if s.Reject[req.Destination] {
		return "", &RejectedError{Code: "destination_rejected", Message: "destination " + req.Destination + " rejected"}
	}

	sig := "sim" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.transfers[sig] = &simulatedTransfer{request: req, fail: s.Fail[req.Destination]}
	if req.Reference != "" {
		s.byRef[req.Reference] = sig
	}
	return sig, nil
}

// Status advances the simulated confirmation clock for signature.
func (s *Simulator) Status(ctx context.Context, signature string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusPending, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	t, ok := s.transfers[signature]
	if !ok {
		return StatusPending, nil
	}
	t.checks++
	if t.checks < s.ConfirmAfter {
		return StatusPending, nil
	}
	if t.fail {
		return StatusFailed, nil
	}
	return StatusConfirmed, nil
}

// Lookup returns the signature issued for reference.
func (s *Simulator) Lookup(ctx context.Context, reference string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.byRef[reference]
	return sig, ok, nil
}

// Submitted returns how many distinct transfers were accepted.
func (s *Simulator) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

func (s *Simulator) init() {
	if s.transfers == nil {
		s.transfers = make(map[string]*simulatedTransfer)
	}
	if s.byRef == nil {
		s.byRef = make(map[string]string)
	}
}
