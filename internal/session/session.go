// Package session drives one schema generation from request to resolved
// worksheet.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"oa-worksheets/internal/dispatch"
	"oa-worksheets/internal/extractor"
	"oa-worksheets/internal/model"
	"oa-worksheets/internal/stream"
	"oa-worksheets/pkg/logger"
)

var (
	ErrEmptyPrompt      = errors.New("prompt must not be empty")
	ErrInvalidPrivacy   = errors.New("invalid privacy level")
	ErrMissingVersionID = errors.New("generation stream ended without a version id")
	// ErrIncomplete marks a soft failure: the worksheet exists but carries
	// neither a schema nor reasoning. It is reported through OnIncomplete,
	// never OnError.
	ErrIncomplete = errors.New("incomplete answer")
)

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateResolving
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateResolving:
		return "resolving"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome classifies a resolved worksheet.
type Outcome int

const (
	OutcomeSchema Outcome = iota
	OutcomeReasoningOnly
	OutcomeIncomplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSchema:
		return "schema"
	case OutcomeReasoningOnly:
		return "reasoning_only"
	case OutcomeIncomplete:
		return "incomplete"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type Result struct {
	Outcome   Outcome
	VersionID int64
	Version   *model.SchemaVersion

	// FromStream is set when the schema was not persisted with the record
	// and the last schema seen in the stream was used instead.
	FromStream bool
}

// Err returns ErrIncomplete for incomplete results and nil otherwise.
func (r *Result) Err() error {
	if r != nil && r.Outcome == OutcomeIncomplete {
		return fmt.Errorf("%w: worksheet %d", ErrIncomplete, r.VersionID)
	}
	return nil
}

// API is the worksheet backend as seen by the controller.
type API interface {
	Generate(ctx context.Context, req model.GenerateRequest) (io.ReadCloser, error)
	GetWorksheet(ctx context.Context, id int64) (*model.SchemaVersion, error)
}

// Callbacks receive the progress of a session. Nil callbacks are skipped.
// Callbacks of a session that has been superseded are not invoked.
type Callbacks struct {
	OnStateChange func(State)
	OnUpdate      func(dispatch.Snapshot)
	OnKeepAlive   func()
	OnComplete    func(Result)
	OnIncomplete  func(Result)
	OnError       func(error)
}

type Controller struct {
	api     API
	decoder *stream.Decoder

	mu     sync.Mutex
	gen    uint64
	state  State
	cancel context.CancelFunc
}

// New returns an idle controller. A nil decoder uses the default delimiter
// and the five minute stream ceiling.
func New(api API, decoder *stream.Decoder) *Controller {
	if decoder == nil {
		decoder = stream.NewDecoder("", stream.DefaultTimeout)
	}
	return &Controller{api: api, decoder: decoder, state: StateIdle}
}

// NewRequest validates user input and builds the generation request.
func NewRequest(prompt, privacy string, existingVersionID *int64) (model.GenerateRequest, error) {
	if strings.TrimSpace(prompt) == "" {
		return model.GenerateRequest{}, ErrEmptyPrompt
	}
	p, err := model.ParsePrivacy(privacy)
	if err != nil {
		return model.GenerateRequest{}, fmt.Errorf("%w: %w", ErrInvalidPrivacy, err)
	}
	req := model.GenerateRequest{Prompt: prompt, Privacy: p}
	if existingVersionID != nil {
		id := *existingVersionID
		req.VersionID = &id
	}
	return req, nil
}

// Generate validates the input and starts a session in the background.
// Validation errors are returned directly and leave the controller state
// untouched; everything after that is reported through cb. Starting a new
// session makes the callbacks of any previous one stale without aborting
// its request.
func (c *Controller) Generate(ctx context.Context, prompt, privacy string, existingVersionID *int64, cb Callbacks) error {
	req, err := NewRequest(prompt, privacy, existingVersionID)
	if err != nil {
		return err
	}
	ctx, cancel, gen := c.begin(ctx)
	go c.run(ctx, cancel, gen, req, cb)
	return nil
}

// Run is the blocking form of Generate. It returns the resolved result or
// the error that was also delivered to cb.OnError.
func (c *Controller) Run(ctx context.Context, prompt, privacy string, existingVersionID *int64, cb Callbacks) (*Result, error) {
	req, err := NewRequest(prompt, privacy, existingVersionID)
	if err != nil {
		return nil, err
	}
	ctx, cancel, gen := c.begin(ctx)
	return c.run(ctx, cancel, gen, req, cb)
}

// Cancel aborts the current session, if any. The session reports the
// cancellation through its error callback.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) begin(ctx context.Context) (context.Context, context.CancelFunc, uint64) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cancel = cancel
	c.state = StateIdle
	return ctx, cancel, c.gen
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) transition(gen uint64, s State, cb Callbacks) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if cb.OnStateChange != nil {
		cb.OnStateChange(s)
	}
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, gen uint64, req model.GenerateRequest, cb Callbacks) (*Result, error) {
	defer c.release(gen)
	defer cancel()

	log := logger.WithFields(map[string]interface{}{"session": gen})
	fail := func(err error) (*Result, error) {
		log.WithError(err).Warn("generation failed")
		c.transition(gen, StateFailed, cb)
		if cb.OnError != nil && c.current(gen) {
			cb.OnError(err)
		}
		return nil, err
	}

	c.transition(gen, StateSending, cb)
	body, err := c.api.Generate(ctx, req)
	if err != nil {
		return fail(err)
	}

	c.transition(gen, StateStreaming, cb)
	var acc dispatch.Accumulator
	var chunkErr error
	hooks := dispatch.Hooks{
		OnMessage: func(s dispatch.Snapshot) {
			if cb.OnUpdate != nil && c.current(gen) {
				cb.OnUpdate(s)
			}
		},
		OnKeepAlive: func() {
			if cb.OnKeepAlive != nil && c.current(gen) {
				cb.OnKeepAlive()
			}
		},
		OnError: func(err error) {
			if chunkErr == nil {
				chunkErr = err
			}
		},
	}
	if err := c.decoder.Decode(ctx, body, func(chunk model.StreamChunk) {
		acc.Apply(chunk, hooks)
	}); err != nil {
		return fail(err)
	}
	if chunkErr != nil {
		return fail(chunkErr)
	}

	c.transition(gen, StateResolving, cb)
	if acc.VersionID == nil {
		return fail(ErrMissingVersionID)
	}
	id := *acc.VersionID
	log = log.WithField("version_id", id)

	fetched, err := c.api.GetWorksheet(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("load worksheet %d: %w", id, err))
	}

	res := Resolve(fetched, acc.Schema)
	res.VersionID = id
	log.Infof("generation resolved: %s (schema from stream: %t)", res.Outcome, res.FromStream)

	c.transition(gen, StateComplete, cb)
	if !c.current(gen) {
		return &res, nil
	}
	if res.Outcome == OutcomeIncomplete {
		if cb.OnIncomplete != nil {
			cb.OnIncomplete(res)
		}
	} else if cb.OnComplete != nil {
		cb.OnComplete(res)
	}
	return &res, nil
}

func (c *Controller) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.cancel = nil
	}
}

// Resolve turns a fetched worksheet into a result. When the record has no
// schema, one is recovered from its reasoning (and the consumed JSON removed
// from the reasoning), falling back to the last schema seen in the stream.
func Resolve(fetched *model.SchemaVersion, streamed *model.SchemaDocument) Result {
	v := fetched.Clone()
	if v == nil {
		v = &model.SchemaVersion{}
	}

	if !v.HasSchema() && v.HasReasoning() {
		if doc, found := extractor.ExtractSchema(v.Reasoning); doc != nil {
			v.Schema = doc
			v.Reasoning = found.Strip(v.Reasoning)
		}
	}
	fromStream := false
	if !v.HasSchema() && streamed != nil {
		v.Schema = streamed
		fromStream = true
	}

	res := Result{VersionID: v.ID, Version: v, FromStream: fromStream}
	switch {
	case v.HasSchema():
		res.Outcome = OutcomeSchema
	case v.HasReasoning():
		res.Outcome = OutcomeReasoningOnly
	default:
		res.Outcome = OutcomeIncomplete
	}
	return res
}
