package app

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barekit/ragchat/pkg/config"
	"github.com/barekit/ragchat/pkg/ingest"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/session"
)

const dims = 32

// bagOfWords embeds a text as hashed word counts.
type bagOfWords struct{}

func (bagOfWords) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, dims)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[h.Sum32()%dims]++
		}
		v[0] += 0.01
		out[i] = v
	}
	return out, nil
}

// echoLLM records the prompts it receives and answers with a fixed text.
type echoLLM struct {
	prompts []string
}

func (e *echoLLM) Chat(_ context.Context, msgs []llm.Message) (*llm.Message, error) {
	m := llm.NewMessage(llm.RoleAssistant, "ok", nil)
	return &m, nil
}

func (e *echoLLM) Stream(_ context.Context, msgs []llm.Message) (<-chan llm.Chunk, error) {
	e.prompts = append(e.prompts, msgs[0].Content)
	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Content: "Antwort"}
	ch <- llm.Chunk{Content: "."}
	close(ch)
	return ch, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.VectorStore.Type = config.StoreMemory
	cfg.Embedding.Dimension = dims
	cfg.Chunking.Size = 200
	cfg.Chunking.Overlap = 20
	cfg.Chunking.MinSize = 10
	return cfg
}

func TestApp_IngestSearchAsk(t *testing.T) {
	ctx := context.Background()
	model := &echoLLM{}
	a, err := New(ctx, testConfig(), Providers{Embedding: bagOfWords{}, LLM: model})
	require.NoError(t, err)
	defer a.Close()

	text := strings.Repeat("Die Bremsanlage des Fahrzeugs muss jaehrlich geprueft werden. ", 10)
	doc, err := a.Ingest.ProcessUpload(ctx, ingest.Upload{Filename: "bremsen.txt", Data: []byte(text)}, ingest.Metadata{
		SourceLink:   "https://example.com/bremsen",
		DocumentType: "regulation",
	})
	require.NoError(t, err)

	stored, err := a.Retrieval.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "bremsen.txt", stored.Title)

	hits, err := a.Retrieval.SearchDocuments(ctx, "Bremsanlage pruefen", 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, doc.ID, hits[0].OriginalDocID)

	stream, err := a.Chat.GetResponse(ctx, "Wann muss die Bremsanlage geprueft werden?", "s1", nil)
	require.NoError(t, err)
	answer, err := llm.Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Antwort.", answer)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Bremsanlage des Fahrzeugs")

	sess, err := a.Sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{doc.ID}, sess.ContextDocuments())
	msgs := sess.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, session.DefaultSystemPrompt, msgs[0].Content)
	assert.Equal(t, "Antwort.", msgs[2].Content)
}

func TestApp_SQLiteMemoryMirror(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Memory.Type = "sqlite"
	cfg.Memory.ConnectionString = t.TempDir() + "/chat.db"

	a, err := New(ctx, cfg, Providers{Embedding: bagOfWords{}, LLM: &echoLLM{}})
	require.NoError(t, err)

	stream, err := a.Chat.GetResponse(ctx, "Hallo", "persisted", nil)
	require.NoError(t, err)
	_, err = llm.Collect(stream)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg, Providers{Embedding: bagOfWords{}, LLM: &echoLLM{}})
	require.NoError(t, err)
	defer b.Close()

	sess, err := b.Sessions.GetSession(ctx, "persisted")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 3, sess.Len())
}

func TestNewStore_Unsupported(t *testing.T) {
	cfg := testConfig()
	cfg.VectorStore.Type = "faiss"
	_, err := NewStore(context.Background(), cfg)
	assert.Error(t, err)
}
