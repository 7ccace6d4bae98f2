package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"oa-worksheets/internal/config"
	"oa-worksheets/internal/model"
	"oa-worksheets/internal/storage"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	chunks    []*schema.Message
	streamErr error
	failAfter error

	mu        sync.Mutex
	lastInput []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	f.record(in)
	var sb strings.Builder
	for _, c := range f.chunks {
		sb.WriteString(c.Content)
	}
	return schema.AssistantMessage(sb.String(), nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, _ ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.record(in)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.failAfter == nil {
		return schema.StreamReaderFromArray(f.chunks), nil
	}

	reader, writer := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		defer writer.Close()
		for _, c := range f.chunks {
			writer.Send(c, nil)
		}
		writer.Send(nil, f.failAfter)
	}()
	return reader, nil
}

func (f *fakeChatModel) record(in []*schema.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastInput = in
}

func (f *fakeChatModel) input() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInput
}

const systemPrompt = `You design data models. Answer with {"content_types": [...]}.`

func newTestGenerator(t *testing.T, cm *fakeChatModel) (*Generator, storage.Storage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Init())
	g, err := NewGenerator(context.Background(), store, cm, config.GeneratorConfig{SystemPrompt: systemPrompt, MaxThreadHistory: 2})
	require.NoError(t, err)
	return g, store
}

type recorder struct {
	chunks []model.StreamChunk
}

func (r *recorder) emit(c model.StreamChunk) error {
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *recorder) types() []model.ChunkType {
	out := make([]model.ChunkType, 0, len(r.chunks))
	for _, c := range r.chunks {
		out = append(out, c.Type)
	}
	return out
}

func reasoningDelta(s string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, ReasoningContent: s}
}

func contentDelta(s string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: s}
}

func TestGenerateWithSchema(t *testing.T) {
	cm := &fakeChatModel{chunks: []*schema.Message{
		reasoningDelta("Events need "),
		reasoningDelta("venues."),
		contentDelta("Here is the model.\n```json\n"),
		contentDelta(`{"content_types":[{"model_name":"event","name":"Event","fields":[{"label":"Venue","machine_name":"venue","relationship":"venue"}]}]}`),
		contentDelta("\n```"),
	}}
	g, store := newTestGenerator(t, cm)

	req, err := g.Validate(model.GenerateRequest{Prompt: "  an events site "})
	require.NoError(t, err)
	assert.Equal(t, model.PrivacyPublic, req.Privacy)

	rec := &recorder{}
	v, err := g.Generate(context.Background(), req, rec.emit)
	require.NoError(t, err)

	assert.Equal(t, []model.ChunkType{
		model.ChunkMessage,
		model.ChunkReasoning, model.ChunkReasoning,
		model.ChunkMessage, model.ChunkMessage, model.ChunkMessage,
		model.ChunkReasoning,
		model.ChunkToolResult,
		model.ChunkCorrectedSchema,
		model.ChunkDone,
	}, rec.types())

	first := rec.chunks[0]
	require.NotNil(t, first.VersionID)
	assert.Equal(t, v.ID, *first.VersionID)
	assert.Equal(t, "Events need venues.", rec.chunks[2].ContentText())
	assert.Equal(t, "Here is the model.", rec.chunks[6].ContentText())
	assert.Contains(t, rec.chunks[7].ContentText(), `relationship to unknown content type "venue"`)
	require.NotNil(t, rec.chunks[8].Schema)
	assert.Equal(t, v.ID, *rec.chunks[9].VersionID)

	stored, err := store.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, "an events site", stored.Prompt)
	assert.Equal(t, "Here is the model.", stored.Reasoning)
	require.NotNil(t, stored.Schema)
	assert.Equal(t, "event", stored.Schema.ContentTypes[0].ModelName)

	in := cm.input()
	require.Len(t, in, 2)
	assert.Equal(t, schema.System, in[0].Role)
	assert.Equal(t, systemPrompt, in[0].Content)
	assert.Equal(t, "an events site", in[1].Content)
}

func TestGenerateWithoutSchema(t *testing.T) {
	cm := &fakeChatModel{chunks: []*schema.Message{contentDelta("Could you say more about the audience?")}}
	g, store := newTestGenerator(t, cm)

	rec := &recorder{}
	v, err := g.Generate(context.Background(), model.GenerateRequest{Prompt: "a site", Privacy: model.PrivacyPublic}, rec.emit)
	require.NoError(t, err)

	assert.Equal(t, []model.ChunkType{
		model.ChunkMessage, model.ChunkMessage, model.ChunkReasoning, model.ChunkDone,
	}, rec.types())

	stored, err := store.Get(v.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Schema)
	assert.Equal(t, "Could you say more about the audience?", stored.Reasoning)
}

func TestGenerateModelFailure(t *testing.T) {
	cm := &fakeChatModel{streamErr: errors.New("quota exceeded")}
	g, store := newTestGenerator(t, cm)

	rec := &recorder{}
	v, err := g.Generate(context.Background(), model.GenerateRequest{Prompt: "a site", Privacy: model.PrivacyPublic}, rec.emit)
	require.ErrorIs(t, err, ErrModelUnavailable)

	last := rec.chunks[len(rec.chunks)-1]
	assert.Equal(t, model.ChunkError, last.Type)
	assert.Contains(t, last.ErrorText(), "quota exceeded")

	_, err = store.Get(v.ID)
	assert.NoError(t, err)
}

type createFailingStorage struct {
	*storage.MemoryStorage
}

func (s createFailingStorage) Create(*model.SchemaVersion) error {
	return storage.ErrFileOperation
}

func TestGenerateReportsCreateFailure(t *testing.T) {
	cm := &fakeChatModel{chunks: []*schema.Message{contentDelta("never sent")}}
	store := createFailingStorage{storage.NewMemoryStorage()}
	g, err := NewGenerator(context.Background(), store, cm, config.GeneratorConfig{SystemPrompt: systemPrompt})
	require.NoError(t, err)

	rec := &recorder{}
	v, err := g.Generate(context.Background(), model.GenerateRequest{Prompt: "p", Privacy: model.PrivacyPublic}, rec.emit)
	require.ErrorIs(t, err, storage.ErrFileOperation)
	assert.Nil(t, v)

	require.Len(t, rec.chunks, 1)
	assert.Equal(t, model.ChunkError, rec.chunks[0].Type)
	assert.Equal(t, "failed to create worksheet", rec.chunks[0].ErrorText())
	assert.Nil(t, cm.input())
}

func TestGenerateFailureMidStreamKeepsPartialAnswer(t *testing.T) {
	cm := &fakeChatModel{
		chunks:    []*schema.Message{contentDelta("partial")},
		failAfter: errors.New("connection reset"),
	}
	g, store := newTestGenerator(t, cm)

	rec := &recorder{}
	v, err := g.Generate(context.Background(), model.GenerateRequest{Prompt: "a site", Privacy: model.PrivacyPublic}, rec.emit)
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, model.ChunkError, rec.chunks[len(rec.chunks)-1].Type)

	stored, err := store.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", stored.Reasoning)
}

func TestGenerateStopsWhenEmitFails(t *testing.T) {
	cm := &fakeChatModel{chunks: []*schema.Message{contentDelta("a"), contentDelta("b")}}
	g, _ := newTestGenerator(t, cm)

	gone := errors.New("client gone")
	_, err := g.Generate(context.Background(), model.GenerateRequest{Prompt: "p", Privacy: model.PrivacyPublic}, func(model.StreamChunk) error {
		return gone
	})
	assert.ErrorIs(t, err, gone)
}

func TestGenerateReplaysThreadHistory(t *testing.T) {
	cm := &fakeChatModel{chunks: []*schema.Message{contentDelta("ok")}}
	g, store := newTestGenerator(t, cm)

	root := &model.SchemaVersion{Prompt: "blog", Reasoning: "A simple blog."}
	require.NoError(t, store.Create(root))
	mid := &model.SchemaVersion{
		Prompt: "add tags", Parent: &root.ID,
		Schema: &model.SchemaDocument{ContentTypes: []model.ContentTypeDefinition{{ModelName: "tag", Name: "Tag"}}},
	}
	require.NoError(t, store.Create(mid))
	leaf := &model.SchemaVersion{Prompt: "add authors", Parent: &mid.ID}
	require.NoError(t, store.Create(leaf))

	req, err := g.Validate(model.GenerateRequest{Prompt: "add comments", VersionID: &leaf.ID})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), req, (&recorder{}).emit)
	require.NoError(t, err)

	// MaxThreadHistory is 2: the root is left out.
	in := cm.input()
	var contents []string
	for _, m := range in[1:] {
		contents = append(contents, string(m.Role)+":"+m.Content)
	}
	require.Len(t, contents, 4)
	assert.Equal(t, "user:add tags", contents[0])
	assert.True(t, strings.HasPrefix(contents[1], "assistant:```json"))
	assert.Contains(t, contents[1], `"model_name": "tag"`)
	assert.Equal(t, "user:add authors", contents[2])
	assert.Equal(t, "user:add comments", contents[3])
}

func TestValidate(t *testing.T) {
	g, _ := newTestGenerator(t, &fakeChatModel{})

	_, err := g.Validate(model.GenerateRequest{Prompt: " "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = g.Validate(model.GenerateRequest{Prompt: "p", Privacy: "everyone"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	missing := int64(404)
	_, err = g.Validate(model.GenerateRequest{Prompt: "p", VersionID: &missing})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestBuildVersionTree(t *testing.T) {
	store := storage.NewMemoryStorage()
	create := func(prompt string, parent *int64) int64 {
		v := &model.SchemaVersion{Prompt: prompt, Parent: parent}
		require.NoError(t, store.Create(v))
		return v.ID
	}
	root := create("A very long prompt describing a conference website", nil)
	a := create("A", &root)
	create("B", &root)
	a1 := create("A1", &a)

	tree, err := BuildVersionTree(store, a1)
	require.NoError(t, err)

	assert.Equal(t, root, tree.ID)
	assert.Equal(t, "A very long prompt describing ...", tree.Name)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "A", tree.Children[0].Name)
	assert.Equal(t, "B", tree.Children[1].Name)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, a1, tree.Children[0].Children[0].ID)
	assert.NotNil(t, tree.Children[1].Children)

	_, err = BuildVersionTree(store, 99)
	assert.ErrorIs(t, err, storage.ErrWorksheetNotFound)
}

func TestWorksheetService(t *testing.T) {
	store := storage.NewMemoryStorage()
	root := &model.SchemaVersion{Prompt: "root"}
	require.NoError(t, store.Create(root))
	child := &model.SchemaVersion{Prompt: "child", Parent: &root.ID}
	require.NoError(t, store.Create(child))

	svc := NewWorksheetService(store)
	v, err := svc.Get(child.ID)
	require.NoError(t, err)
	require.NotNil(t, v.VersionTree)
	assert.Equal(t, root.ID, v.VersionTree.ID)

	list, err := svc.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
}
