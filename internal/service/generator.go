package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"oa-worksheets/internal/config"
	"oa-worksheets/internal/extractor"
	"oa-worksheets/internal/model"
	"oa-worksheets/internal/storage"
	"oa-worksheets/pkg/logger"

	"github.com/cloudwego/eino/callbacks"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

var (
	ErrInvalidRequest   = errors.New("invalid generation request")
	ErrParentNotFound   = errors.New("parent worksheet not found")
	ErrModelUnavailable = errors.New("chat model unavailable")
)

const defaultThreadHistory = 5

// Emitter receives the frames of one generation in order. An error stops
// the generation.
type Emitter func(model.StreamChunk) error

// GenerationInput is what the generation graph consumes.
type GenerationInput struct {
	Prompt  string
	History []*schema.Message
}

// Generator turns a prompt into a persisted worksheet, streaming progress
// as it goes.
type Generator struct {
	store      storage.Storage
	runnable   compose.Runnable[*GenerationInput, *schema.Message]
	maxHistory int
	callbacks  callbacks.Handler
}

func NewGenerator(ctx context.Context, store storage.Storage, cm einoModel.BaseChatModel, cfg config.GeneratorConfig) (*Generator, error) {
	runnable, err := composeGenerationGraph(ctx, cm, cfg.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compose graph: %w", err)
	}
	maxHistory := cfg.MaxThreadHistory
	if maxHistory <= 0 {
		maxHistory = defaultThreadHistory
	}
	return &Generator{
		store:      store,
		runnable:   runnable,
		maxHistory: maxHistory,
		callbacks:  logCallback(),
	}, nil
}

func composeGenerationGraph(ctx context.Context, cm einoModel.BaseChatModel, systemPrompt string) (compose.Runnable[*GenerationInput, *schema.Message], error) {
	g := compose.NewGraph[*GenerationInput, *schema.Message]()

	toVariables := compose.InvokableLambda(func(ctx context.Context, in *GenerationInput) (map[string]any, error) {
		return map[string]any{
			"prompt":  in.Prompt,
			"history": in.History,
		}, nil
	})
	if err := g.AddLambdaNode("InputToMap", toVariables); err != nil {
		return nil, err
	}

	// Go templates leave the JSON braces of the system prompt alone.
	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{{.prompt}}"),
	)
	if err := g.AddChatTemplateNode("WorksheetTemplate", tpl); err != nil {
		return nil, err
	}
	if err := g.AddChatModelNode("WorksheetModel", cm); err != nil {
		return nil, err
	}

	if err := g.AddEdge(compose.START, "InputToMap"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("InputToMap", "WorksheetTemplate"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("WorksheetTemplate", "WorksheetModel"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("WorksheetModel", compose.END); err != nil {
		return nil, err
	}

	return g.Compile(ctx, compose.WithGraphName("WorksheetGeneration"))
}

func logCallback() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			logger.Debugf("node %s (%s) started", info.Name, info.Component)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			logger.Errorf("node %s (%s) failed: %v", info.Name, info.Component, err)
			return ctx
		}).
		Build()
}

// Validate normalises req. An unset privacy becomes public, and a parent
// version must exist.
func (g *Generator) Validate(req model.GenerateRequest) (model.GenerateRequest, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return req, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	p, err := model.ParsePrivacy(string(req.Privacy))
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Privacy = p

	if req.VersionID != nil {
		if _, err := g.store.Get(*req.VersionID); err != nil {
			if errors.Is(err, storage.ErrWorksheetNotFound) {
				return req, fmt.Errorf("%w: %d", ErrParentNotFound, *req.VersionID)
			}
			return req, err
		}
	}
	return req, nil
}

// Generate runs one generation for an already validated request. The new
// worksheet is stored before the model is called and its id is the first
// thing emitted, so a client can always find the result. Model failures are
// emitted as an error frame and also returned.
func (g *Generator) Generate(ctx context.Context, req model.GenerateRequest, emit Emitter) (*model.SchemaVersion, error) {
	runID := uuid.NewString()

	rec := &model.SchemaVersion{
		Prompt:  req.Prompt,
		Privacy: req.Privacy,
		Parent:  req.VersionID,
	}
	if err := g.store.Create(rec); err != nil {
		logger.Errorf("Failed to create worksheet: %v", err)
		_ = emit(model.ErrorChunk("failed to create worksheet"))
		return nil, fmt.Errorf("failed to create worksheet: %w", err)
	}
	log := logger.WithFields(map[string]interface{}{"run": runID, "version_id": rec.ID})
	log.Infof("Generating worksheet (parent %v)", parentString(rec.Parent))

	if err := emit(model.MessageChunk("").WithVersion(rec.ID)); err != nil {
		return rec, err
	}

	history, err := g.threadHistory(rec.Parent)
	if err != nil {
		log.Warnf("thread history unavailable: %v", err)
	}

	answer, err := g.stream(ctx, &GenerationInput{Prompt: rec.Prompt, History: history}, emit)
	if err != nil {
		rec.Reasoning = answer
		if uerr := g.store.Update(rec); uerr != nil {
			log.Errorf("failed to save partial answer: %v", uerr)
		}
		if errors.Is(err, ErrModelUnavailable) {
			log.Errorf("generation failed: %v", err)
			_ = emit(model.ErrorChunk(err.Error()))
		}
		return rec, err
	}

	doc, found := extractor.ExtractSchema(answer)
	if doc != nil {
		rec.Schema = doc
		rec.Reasoning = found.Strip(answer)
	} else {
		rec.Reasoning = strings.TrimSpace(answer)
	}
	if err := g.store.Update(rec); err != nil {
		_ = emit(model.ErrorChunk("failed to save worksheet"))
		return rec, fmt.Errorf("failed to save worksheet: %w", err)
	}

	// Replace the streamed text with the narrative the worksheet keeps.
	if err := emit(model.ReasoningChunk(rec.Reasoning).WithVersion(rec.ID)); err != nil {
		return rec, err
	}
	if doc != nil {
		if err := emit(model.ToolResultChunk(validationReport(doc))); err != nil {
			return rec, err
		}
		if err := emit(model.CorrectedSchemaChunk(doc).WithVersion(rec.ID)); err != nil {
			return rec, err
		}
	}
	log.Infof("Worksheet generated (schema: %t)", doc != nil)
	return rec, emit(model.DoneChunk().WithVersion(rec.ID))
}

// stream runs the model and forwards its output. Thinking deltas are
// accumulated and sent as reasoning snapshots; answer deltas are sent as
// message deltas. It returns the full answer text.
func (g *Generator) stream(ctx context.Context, in *GenerationInput, emit Emitter) (string, error) {
	sr, err := g.runnable.Stream(ctx, in, compose.WithCallbacks(g.callbacks))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer sr.Close()

	var thinking, answer strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return answer.String(), nil
		}
		if err != nil {
			return answer.String(), fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		if msg == nil {
			continue
		}

		if msg.ReasoningContent != "" {
			thinking.WriteString(msg.ReasoningContent)
			if err := emit(model.ReasoningChunk(thinking.String())); err != nil {
				return answer.String(), err
			}
		}
		if msg.Content != "" {
			answer.WriteString(msg.Content)
			if err := emit(model.MessageChunk(msg.Content)); err != nil {
				return answer.String(), err
			}
		}
	}
}

// threadHistory replays up to maxHistory ancestors, oldest first, as
// user/assistant turns.
func (g *Generator) threadHistory(parent *int64) ([]*schema.Message, error) {
	var chain []*model.SchemaVersion
	seen := make(map[int64]bool)
	for id := parent; id != nil && len(chain) < g.maxHistory; {
		if seen[*id] {
			break
		}
		seen[*id] = true
		v, err := g.store.Get(*id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
		id = v.Parent
	}

	history := make([]*schema.Message, 0, 2*len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		v := chain[i]
		history = append(history, schema.UserMessage(v.Prompt))
		if text := assistantTurn(v); text != "" {
			history = append(history, schema.AssistantMessage(text, nil))
		}
	}
	return history, nil
}

func assistantTurn(v *model.SchemaVersion) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(v.Reasoning))
	if v.Schema != nil {
		data, err := json.MarshalIndent(v.Schema, "", "  ")
		if err == nil {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString("```json\n")
			sb.Write(data)
			sb.WriteString("\n```")
		}
	}
	return sb.String()
}

func validationReport(doc *model.SchemaDocument) string {
	problems := doc.Validate()
	if len(problems) == 0 {
		return fmt.Sprintf("schema check passed: %d content types", len(doc.ContentTypes))
	}
	return fmt.Sprintf("schema check found %d problem(s):\n- %s", len(problems), strings.Join(problems, "\n- "))
}

func parentString(p *int64) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprint(*p)
}
