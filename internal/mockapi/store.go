package mockapi

import (
	"sync"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

// instrumentRecord is a tokenized instrument waiting to be paid with once.
type instrumentRecord struct {
	Token      string
	Type       model.InstrumentType
	Number     string
	MethodType string
	Used       bool
}

// paymentRecord is a payment plus what its next resume must look like.
type paymentRecord struct {
	Payment      model.Payment
	Outcome      Outcome
	PMToken      string
	ActionAccess string
	ResumeToken  string
	OnResume     model.PaymentStatus
	Challenged   bool
}

// statusRecord backs the status URL of a redirect action.
type statusRecord struct {
	PaymentID   string
	PendingLeft int
	ResumeToken string
}

// store provides thread-safe storage for everything the mock backend issued.
type store struct {
	mu          sync.RWMutex
	sessions    map[string]bool
	instruments map[string]*instrumentRecord
	payments    map[string]*paymentRecord
	byPMToken   map[string]string
	statuses    map[string]*statusRecord
	idempotent  map[string]string
	mandates    map[string]string
}

func newStore() *store {
	return &store{
		sessions:    make(map[string]bool),
		instruments: make(map[string]*instrumentRecord),
		payments:    make(map[string]*paymentRecord),
		byPMToken:   make(map[string]string),
		statuses:    make(map[string]*statusRecord),
		idempotent:  make(map[string]string),
		mandates:    make(map[string]string),
	}
}

func (s *store) addSession(accessToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[accessToken] = true
}

func (s *store) hasSession(accessToken string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[accessToken]
}

func (s *store) saveInstrument(rec *instrumentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[rec.Token] = rec
}

// useInstrument marks a payment method token consumed. It reports false when
// the token is unknown or already used.
func (s *store) useInstrument(token string) (instrumentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.instruments[token]
	if !ok || rec.Used {
		return instrumentRecord{}, false
	}
	rec.Used = true
	return *rec, true
}

func (s *store) savePayment(rec *paymentRecord, idempotencyKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[rec.Payment.ID] = rec
	s.byPMToken[rec.PMToken] = rec.Payment.ID
	if idempotencyKey != "" {
		s.idempotent[idempotencyKey] = rec.Payment.ID
	}
}

func (s *store) replay(idempotencyKey string) (model.Payment, bool) {
	if idempotencyKey == "" {
		return model.Payment{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idempotent[idempotencyKey]
	if !ok {
		return model.Payment{}, false
	}
	return s.payments[id].Payment, true
}

// updatePayment runs fn on the payment with the store locked.
func (s *store) updatePayment(id string, fn func(*paymentRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[id]
	if !ok {
		return errNotFound
	}
	return fn(rec)
}

// updateByPMToken runs fn on the payment created from a payment method token.
func (s *store) updateByPMToken(token string, fn func(*paymentRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[s.byPMToken[token]]
	if !ok {
		return errNotFound
	}
	return fn(rec)
}

func (s *store) saveStatus(id string, rec *statusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = rec
}

// poll counts one status read and returns the resume token once no pending
// reads are left.
func (s *store) poll(id string) (string, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.statuses[id]
	if !ok {
		return "", false, false
	}
	if rec.PendingLeft > 0 {
		rec.PendingLeft--
		return "", false, true
	}
	return rec.ResumeToken, true, true
}

// completeRedirect marks the out-of-band step done and returns its resume token.
func (s *store) completeRedirect(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.statuses[id]
	if !ok {
		return "", false
	}
	rec.PendingLeft = 0
	return rec.ResumeToken, true
}

func (s *store) saveMandate(id, iban string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mandates[id] = iban
}

// counts reports how many payments and tokens the store holds.
func (s *store) counts() (payments, instruments int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments), len(s.instruments)
}

func (s *store) hasMandate(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mandates[id]
	return ok
}
