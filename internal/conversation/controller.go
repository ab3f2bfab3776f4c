// Package conversation owns the ordered message transcript and the
// single in-flight translation slot.
package conversation

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/querytalk/querytalk/pkg/contracts"
	"github.com/querytalk/querytalk/pkg/models"
)

// FailureText is the fixed message appended when a translation fails.
const FailureText = "죄송합니다. 요청을 처리하는 중 오류가 발생했습니다."

var (
	// ErrBlankQuestion is returned when Submit is called with only whitespace.
	ErrBlankQuestion = errors.New("question is blank")
	// ErrBusy is returned while a translation request is already in flight.
	ErrBusy = errors.New("a translation request is already in flight")
)

// Controller maintains the append-only transcript, enforces the
// at-most-one-in-flight-translation invariant, and caches the most
// recently received preprocessing trace so the viewer can reopen it
// after new messages arrive. Only the last trace is kept; traces of
// older bot messages become unreachable once superseded.
type Controller struct {
	translator contracts.TranslatorService

	mu         sync.Mutex
	transcript []models.Message
	pending    bool
	filter     models.Domain
	lastTrace  *models.PreprocessingTrace
	entropy    *ulid.MonotonicEntropy
}

// New creates a controller and seeds the welcome transcript.
func New(translator contracts.TranslatorService) *Controller {
	c := &Controller{
		translator: translator,
		filter:     models.DomainAll,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
	c.mu.Lock()
	c.appendLocked(models.Message{
		Role: models.RoleBot,
		Text: "안녕하세요! 고객 데이터 분석을 위한 Text2SQL 도구입니다. 자연어로 질문하시면 SQL 쿼리로 변환해드립니다.",
	})
	c.appendLocked(models.Message{
		Role: models.RoleBot,
		Text: "예시 질문: \"신용점수가 높은 고객 목록을 보여줘\", \"고객들의 평균 나이는?\", \"성별별 고객 분포는?\"",
	})
	c.mu.Unlock()
	return c
}

// Submit issues a translation request for questionText.
//
// Blank questions and submissions made while a request is outstanding
// are rejected before any network call; the transcript is untouched.
// On accept the user message is appended immediately, the call is made
// with the domain filter captured at accept time, and exactly one bot
// entry (answer or error) is appended when it resolves.
func (c *Controller) Submit(ctx context.Context, questionText string) error {
	question := strings.TrimSpace(questionText)

	c.mu.Lock()
	if question == "" {
		c.mu.Unlock()
		return ErrBlankQuestion
	}
	if c.pending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.pending = true
	c.appendLocked(models.Message{Role: models.RoleUser, Text: question})
	filter := c.filter
	c.mu.Unlock()

	// pending must clear on every path, including a panicking
	// translator, or the controller would reject all future submits.
	defer func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
	}()

	req := models.TranslateRequest{Question: question, RagDomain: string(filter)}
	resp, err := c.translator.Translate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("translation failed")
		c.appendLocked(models.Message{
			Role:    models.RoleBot,
			Text:    FailureText,
			IsError: true,
		})
		return nil
	}

	if resp.Preprocessing != nil {
		c.lastTrace = resp.Preprocessing
	}
	c.appendLocked(models.Message{
		Role:  models.RoleBot,
		Text:  resp.SQL,
		SQL:   resp.SQL,
		Trace: resp.Preprocessing,
	})
	log.Info().
		Str("domain", string(filter)).
		Bool("trace", resp.Preprocessing != nil).
		Msg("translation complete")
	return nil
}

// SetDomainFilter changes the RAG domain used by the next Submit. It
// has no effect on in-flight or past messages.
func (c *Controller) SetDomainFilter(domain models.Domain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = domain
}

// DomainFilter returns the current RAG domain filter.
func (c *Controller) DomainFilter() models.Domain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Pending reports whether a translation request is outstanding.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Transcript returns a copy of the message sequence in append order.
func (c *Controller) Transcript() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// LastTrace returns the most recently received preprocessing trace, or
// nil if no translation has produced one yet.
func (c *Controller) LastTrace() *models.PreprocessingTrace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTrace
}

// appendLocked stamps ID and CreatedAt and appends. Caller holds mu;
// issuing the ULID under the lock keeps IDs strictly increasing in
// append order.
func (c *Controller) appendLocked(msg models.Message) {
	now := time.Now().UTC()
	msg.ID = ulid.MustNew(ulid.Timestamp(now), c.entropy).String()
	msg.CreatedAt = now
	c.transcript = append(c.transcript, msg)
}
