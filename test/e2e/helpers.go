//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/confidant/internal/api/handlers"
	"github.com/cloo-solutions/confidant/internal/assembler"
	"github.com/cloo-solutions/confidant/internal/embedding"
	"github.com/cloo-solutions/confidant/internal/generation"
	"github.com/cloo-solutions/confidant/internal/index"
	"github.com/cloo-solutions/confidant/internal/jobs"
	"github.com/cloo-solutions/confidant/internal/openai"
	"github.com/cloo-solutions/confidant/internal/pipeline"
	"github.com/cloo-solutions/confidant/internal/repository"
	"github.com/cloo-solutions/confidant/internal/sentinel"
	"github.com/cloo-solutions/confidant/internal/server"
	"github.com/cloo-solutions/confidant/internal/service"
	"github.com/cloo-solutions/confidant/internal/storage"
	"github.com/cloo-solutions/confidant/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const embeddingDims = 1536

// fakeEmbedder derives a deterministic unit-ish vector from each text so
// retrieval ranks identical content identically across runs.
type fakeEmbedder struct{}

func (fakeEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		seed := sha256.Sum256([]byte(text))
		vec := make([]float32, embeddingDims)
		for j := range vec {
			vec[j] = float32(seed[j%len(seed)]) / 255.0
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// fakeChat returns a scripted answer so tests can stage clean answers or
// deliberate verbatim leaks.
type fakeChat struct {
	mu     sync.Mutex
	answer string
}

func (f *fakeChat) SetAnswer(answer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = answer
}

func (f *fakeChat) currentAnswer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answer == "" {
		return "Based on the provided material, the policy allows it."
	}
	return f.answer
}

func (f *fakeChat) Complete(ctx context.Context, messages []openai.ChatMessage) (string, openai.ChatUsage, error) {
	return f.currentAnswer(), openai.ChatUsage{PromptTokens: 50, CompletionTokens: 20}, nil
}

func (f *fakeChat) Stream(ctx context.Context, messages []openai.ChatMessage) (<-chan openai.StreamChunk, <-chan error) {
	chunks := make(chan openai.StreamChunk)
	errs := make(chan error, 1)
	answer := f.currentAnswer()
	go func() {
		defer close(chunks)
		for i := 0; i < len(answer); i += 16 {
			end := i + 16
			if end > len(answer) {
				end = len(answer)
			}
			select {
			case chunks <- openai.StreamChunk{Delta: answer[i:end]}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case chunks <- openai.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return chunks, errs
}

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T               *testing.T
	Ctx             context.Context
	PostgresC       *testutil.PostgresContainer
	RustFSC         *testutil.RustFSContainer
	Pool            *pgxpool.Pool
	ServerURL       string
	ServerCloser    func()
	S3Client        *storage.S3Client
	Chat            *fakeChat
	EmbeddingWorker *jobs.Worker
	ArchiveWorker   *jobs.Worker
	OrgID           string
	AuthToken       string
	HTTPClient      *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-audit",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		S3Client:   s3Client,
		Chat:       &fakeChat{},
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	env.ServerURL, env.ServerCloser = env.startServer(port)
	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.EmbeddingWorker != nil {
		e.EmbeddingWorker.Stop()
	}
	if e.ArchiveWorker != nil {
		e.ArchiveWorker.Stop()
	}
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// startServer wires the full stack against the fake providers.
func (e *E2ETestEnv) startServer(port int) (string, func()) {
	orgRepo := repository.NewOrgRepository(e.Pool)
	apiKeyRepo := repository.NewAPIKeyRepository(e.Pool)
	chunkRepo := repository.NewChunkRepository(e.Pool)
	conversationRepo := repository.NewConversationRepository(e.Pool)
	auditRepo := repository.NewAuditRepository(e.Pool)
	budgetRepo := repository.NewBudgetRepository(e.Pool, 10.0)
	txRunner := repository.NewTxRunner(e.Pool)

	gateway := embedding.NewGateway(fakeEmbedder{}, budgetRepo, embedding.Config{
		ModelVersion:   "fake-embed-1",
		MaxBatchSize:   16,
		BatchWindow:    5 * time.Millisecond,
		MaxAttempts:    2,
		CacheSize:      256,
		CostPerKTokens: 0.0001,
	})

	backend, err := index.New(index.BackendPGVector, e.Pool, 0)
	if err != nil {
		e.T.Fatalf("failed to create vector index: %v", err)
	}
	retriever := index.NewCachedSearcher(backend, 200*time.Millisecond)

	builder := assembler.New(assembler.HeuristicCounter{}, assembler.Config{
		TotalBudget:  3000,
		CitableRatio: 0.7,
	})

	generator := generation.NewService(e.Chat, budgetRepo, generation.ServiceConfig{
		Breaker: generation.BreakerConfig{FailureThreshold: 5, Cooldown: time.Second},
		Pricing: generation.Pricing{PromptUSDPerK: 0.00015, CompletionUSDPerK: 0.0006},
		Timeout: 5 * time.Second,
	})

	guard := sentinel.NewService(auditRepo, sentinel.Config{OverlapSpanTokens: 8})

	orchestrator := pipeline.New(gateway, retriever, builder, generator, guard, conversationRepo, pipeline.Config{
		RetrievalK:      8,
		StageSoftBudget: 2 * time.Second,
		QueryDeadline:   10 * time.Second,
	})

	ingestSvc := service.NewIngestService(txRunner, retriever)
	authSvc := service.NewAuthService(orgRepo, apiKeyRepo, &service.DefaultUUIDGenerator{})

	embeddingProcessor := jobs.NewEmbeddingWorker(chunkRepo, gateway, retriever)
	e.EmbeddingWorker = jobs.NewWorker(embeddingProcessor, 250*time.Millisecond)
	go e.EmbeddingWorker.Start(e.Ctx)

	archiveProcessor := jobs.NewArchiveWorker(auditRepo, e.S3Client)
	e.ArchiveWorker = jobs.NewWorker(archiveProcessor, 500*time.Millisecond)
	go e.ArchiveWorker.Start(e.Ctx)

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:       authSvc,
		QueryHandler:        handlers.NewQueryHandler(orchestrator, generator, guard, 64),
		SourceHandler:       handlers.NewSourceHandler(ingestSvc),
		ConversationHandler: handlers.NewConversationHandler(conversationRepo),
		AuthHandler:         handlers.NewAuthHandler(authSvc, orgRepo, apiKeyRepo),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.T.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(e.T, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// Bootstrap creates an organization and API key for testing
func (e *E2ETestEnv) Bootstrap() {
	orgResp, err := e.Post("/orgs", map[string]string{"name": "E2E Test Org"}, "")
	if err != nil {
		e.T.Fatalf("failed to create org: %v", err)
	}

	var orgData struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(orgResp.Data, &orgData); err != nil {
		e.T.Fatalf("failed to parse org response: %v", err)
	}
	e.OrgID = orgData.ID

	keyResp, err := e.Post("/apikeys", map[string]string{
		"org_id": e.OrgID,
		"name":   "e2e-test-key",
	}, "")
	if err != nil {
		e.T.Fatalf("failed to create API key: %v", err)
	}

	var keyData struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(keyResp.Data, &keyData); err != nil {
		e.T.Fatalf("failed to parse key response: %v", err)
	}
	e.AuthToken = keyData.Token
}

// WaitForEmbeddings blocks until every chunk of the source has a vector.
func (e *E2ETestEnv) WaitForEmbeddings(sourceID string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var missing int
		err := e.Pool.QueryRow(e.Ctx,
			"SELECT count(*) FROM chunks WHERE source_id = $1 AND embedding IS NULL",
			sourceID,
		).Scan(&missing)
		if err == nil && missing == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("embeddings for source %s not backfilled within %v", sourceID, timeout)
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, authToken)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, authToken)
}

// Patch performs a PATCH request
func (e *E2ETestEnv) Patch(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("PATCH", path, body, authToken)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// StreamSSE posts to an SSE endpoint and collects events until the stream ends.
func (e *E2ETestEnv) StreamSSE(path string, body interface{}, authToken string) ([]SSEEvent, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", e.ServerURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var events []SSEEvent
	var current SSEEvent
	for _, line := range bytes.Split(raw, []byte("\n")) {
		s := string(line)
		switch {
		case len(s) > 7 && s[:7] == "event: ":
			current.Event = s[7:]
		case len(s) > 6 && s[:6] == "data: ":
			current.Data = json.RawMessage(s[6:])
		case s == "":
			if current.Event != "" {
				events = append(events, current)
			}
			current = SSEEvent{}
		}
	}
	return events, nil
}

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	Event string
	Data  json.RawMessage
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
