package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/logbridge/internal/deobf"
	"github.com/GoPolymarket/logbridge/internal/middleware"
	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/repository"
	"github.com/GoPolymarket/logbridge/internal/service"
	"github.com/GoPolymarket/logbridge/internal/sink"
	"github.com/GoPolymarket/logbridge/internal/symbols"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mapSource struct {
	maps map[string]*symbols.SymbolMap
}

func (s *mapSource) Name() string                   { return "test" }
func (s *mapSource) Validate(context.Context) error { return nil }
func (s *mapSource) Load(_ context.Context, perm string) (*symbols.SymbolMap, error) {
	if m, ok := s.maps[perm]; ok {
		return m, nil
	}
	return nil, symbols.ErrNotFound
}

type fixture struct {
	router   *gin.Engine
	store    *symbols.Store
	deobf    *deobf.Deobfuscator
	buffer   *sink.Buffer
	hub      *sink.Hub
	warnings *sink.Buffer
}

func newFixture(t *testing.T, echo bool, maxBody int64) *fixture {
	t.Helper()
	store := symbols.NewStore(nil, &mapSource{maps: map[string]*symbols.SymbolMap{
		"P1": symbols.NewSymbolMap("P1", "test", map[string]symbols.Symbol{
			"xa": {Class: "com.acme.Widget", Method: "onClick", File: "Widget.java", Line: 31},
		}),
	}})
	buffer := sink.NewBuffer(100)
	hub := sink.NewHub()
	warnings := sink.NewBuffer(10)
	d := deobf.New(store, deobf.Options{Warnings: warnings})
	svc := service.NewLogService(d, sink.Multi{buffer, hub}, service.LogServiceOptions{ReturnResolved: echo})

	logs := NewLogHandler(svc, maxBody)
	records := NewRecordsHandler(buffer, nil, nil)
	perms := NewPermutationHandler(store, d)
	tail := NewTailHandler(hub)

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	v1 := r.Group("/v1")
	v1.POST("/log", logs.Ingest)
	v1.POST("/log/:level", logs.LogLevel)
	v1.GET("/records", records.List)
	v1.GET("/permutations", perms.List)
	v1.GET("/tail", tail.Stream)

	return &fixture{router: r, store: store, deobf: d, buffer: buffer, hub: hub, warnings: warnings}
}

func (f *fixture) post(path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

type recordsBody struct {
	Records []*model.LogRecord `json:"records"`
}

func decodeRecords(t *testing.T, w *httptest.ResponseRecorder) []*model.LogRecord {
	t.Helper()
	var body recordsBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Records
}

const obfuscatedBatch = `[
  {"level":"ERROR","message":"click failed","category":"com.acme.ui","time":1700000000000,
   "throwable":{"type":"java.lang.NullPointerException","message":"x is null",
     "stackTrace":[{"className":"Unknown","methodName":"xa","fileName":"Unknown","lineNumber":-1}],
     "cause":{"type":"java.lang.IllegalStateException",
       "stackTrace":[{"className":"xa","methodName":"anonymous","lineNumber":7}]}}},
  {"level":"INFO","message":"loaded","fields":{"screen":"home","count":3}}
]`

func TestIngest_BatchResolvedAndEchoed(t *testing.T) {
	f := newFixture(t, true, 0)

	w := f.post("/v1/log", obfuscatedBatch, map[string]string{
		HeaderPermutation:   "P1",
		HeaderXForwardedFor: "203.0.113.5",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	recs := decodeRecords(t, w)
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, model.LevelError, first.Level)
	assert.Equal(t, "com.acme.ui", first.Category)
	assert.Equal(t, int64(1700000000000), first.ClientTime)
	assert.Equal(t, "P1", first.Permutation)
	assert.Equal(t, "203.0.113.5", first.Get(model.FieldXForwardedFor))
	assert.NotEmpty(t, first.Get(model.FieldRemoteAddr))
	assert.Equal(t, model.StackFrame{ClassName: "com.acme.Widget", MethodName: "onClick", FileName: "Widget.java", LineNumber: 31},
		first.Throwable.StackTrace[0])
	require.NotNil(t, first.Throwable.Cause)
	assert.Equal(t, "com.acme.Widget", first.Throwable.Cause.StackTrace[0].ClassName)

	assert.Equal(t, "home", recs[1].Get("screen"))
	assert.Equal(t, "3", recs[1].Get("count"))

	assert.Len(t, f.buffer.List(10, model.LevelTrace), 2)
	assert.Empty(t, f.warnings.List(10, model.LevelTrace))
}

func TestIngest_SingleObject(t *testing.T) {
	f := newFixture(t, true, 0)

	w := f.post("/v1/log", `{"level":"warn","message":"only one"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	recs := decodeRecords(t, w)
	require.Len(t, recs, 1)
	assert.Equal(t, model.LevelWarn, recs[0].Level)
	assert.Empty(t, recs[0].Get(model.FieldXForwardedFor))
}

func TestIngest_EchoDisabled(t *testing.T) {
	f := newFixture(t, false, 0)

	w := f.post("/v1/log", `[{"level":"INFO","message":"a"}]`, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Len(t, f.buffer.List(10, model.LevelTrace), 1)
}

func TestIngest_UnknownPermutationWarnsOnce(t *testing.T) {
	f := newFixture(t, true, 0)
	body := `{"level":"ERROR","message":"m","throwable":{"type":"E","stackTrace":[{"className":"Unknown","methodName":"zz","lineNumber":-1}]}}`

	for i := 0; i < 3; i++ {
		w := f.post("/v1/log", body, map[string]string{HeaderPermutation: "NOPE"})
		require.Equal(t, http.StatusOK, w.Code)
		recs := decodeRecords(t, w)
		assert.Equal(t, "zz", recs[0].Throwable.StackTrace[0].MethodName)
	}

	warnings := f.warnings.List(10, model.LevelTrace)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "permutation NOPE")
}

func TestIngest_DevPermutationPassesThrough(t *testing.T) {
	f := newFixture(t, true, 0)
	body := `{"level":"ERROR","message":"m","throwable":{"type":"E","stackTrace":[{"className":"xa","methodName":"m","lineNumber":1}]}}`

	w := f.post("/v1/log", body, map[string]string{HeaderPermutation: deobf.DefaultDevPermutation})
	require.Equal(t, http.StatusOK, w.Code)
	recs := decodeRecords(t, w)
	assert.Equal(t, "xa", recs[0].Throwable.StackTrace[0].ClassName)
	assert.Empty(t, f.warnings.List(10, model.LevelTrace))
}

func TestIngest_BadBodies(t *testing.T) {
	f := newFixture(t, true, 0)

	cases := map[string]string{
		"not json":       `{{`,
		"scalar":         `42`,
		"missing level":  `[{"message":"x"}]`,
		"bad level":      `[{"level":"LOUD","message":"x"}]`,
		"bad trace":      `{"level":"INFO","throwable":{"type":"E","stackTrace":"nope"}}`,
		"bad frame":      `{"level":"INFO","throwable":{"type":"E","stackTrace":[1]}}`,
		"fields not obj": `{"level":"INFO","fields":[1,2]}`,
		"empty":          ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := f.post("/v1/log", body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
		})
	}
	assert.Empty(t, f.buffer.List(10, model.LevelTrace))
}

func TestIngest_SkipsUndecodableElements(t *testing.T) {
	f := newFixture(t, true, 0)

	w := f.post("/v1/log", `[{"level":"LOUD","message":"bad"},{"level":"INFO","message":"good"},"junk"]`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Records []*model.LogRecord `json:"records"`
		Skipped int                `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "good", resp.Records[0].Message)
	assert.Equal(t, 2, resp.Skipped)

	buffered := f.buffer.List(10, model.LevelTrace)
	require.Len(t, buffered, 1)
	assert.Equal(t, "good", buffered[0].Message)
}

func TestDecodeBatch_ReportsSkipped(t *testing.T) {
	recs, skipped, err := decodeBatch([]byte(`[{"level":"INFO","message":"a"},{"message":"no level"}]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, skipped, 1)
	assert.ErrorContains(t, skipped[0], "record 1")

	_, _, err = decodeBatch([]byte(`[{"message":"no level"}]`))
	assert.ErrorContains(t, err, "level is required")

	recs, skipped, err = decodeBatch([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, skipped)
}

func TestIngest_BodyTooLarge(t *testing.T) {
	f := newFixture(t, true, 32)

	w := f.post("/v1/log", `[{"level":"INFO","message":"`+strings.Repeat("x", 100)+`"}]`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestLogLevel(t *testing.T) {
	f := newFixture(t, true, 0)

	w := f.post("/v1/log/error", `{"message":"boom","throwable":{"type":"E","stackTrace":[{"className":"xa","methodName":"q","lineNumber":2}]}}`,
		map[string]string{HeaderPermutation: "P1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	recs := decodeRecords(t, w)
	require.Len(t, recs, 1)
	assert.Equal(t, model.LevelError, recs[0].Level)
	assert.True(t, strings.HasPrefix(recs[0].Message, "["), recs[0].Message)
	assert.True(t, strings.HasSuffix(recs[0].Message, "] boom"), recs[0].Message)
	assert.Equal(t, "com.acme.Widget", recs[0].Throwable.StackTrace[0].ClassName)
}

func TestLogLevel_UnknownLevel(t *testing.T) {
	f := newFixture(t, true, 0)

	assert.Equal(t, http.StatusBadRequest, f.post("/v1/log/loud", `{"message":"x"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/v1/log/off", `{"message":"x"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/v1/log/info", `[]`, nil).Code)
}

func TestRecords_Memory(t *testing.T) {
	f := newFixture(t, false, 0)
	f.post("/v1/log", `[{"level":"DEBUG","message":"d"},{"level":"ERROR","message":"e"},{"level":"INFO","message":"i"}]`, nil)

	w := f.get("/v1/records")
	require.Equal(t, http.StatusOK, w.Code)
	recs := decodeRecords(t, w)
	require.Len(t, recs, 3)
	assert.Equal(t, "i", recs[0].Message)

	w = f.get("/v1/records?level=warn")
	recs = decodeRecords(t, w)
	require.Len(t, recs, 1)
	assert.Equal(t, "e", recs[0].Message)

	w = f.get("/v1/records?limit=2")
	assert.Len(t, decodeRecords(t, w), 2)

	assert.Equal(t, http.StatusBadRequest, f.get("/v1/records?level=loud").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.get("/v1/records?source=db").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/v1/records?source=tape").Code)
}

func TestRecords_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := repository.NewRedisRecordRepo(client, "logs", 100)
	require.NoError(t, repo.Log(context.Background(), &model.LogRecord{Level: model.LevelError, Message: "from redis"}))

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.GET("/v1/records", NewRecordsHandler(sink.NewBuffer(10), repo, nil).List)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/records?source=redis", nil))
	require.Equal(t, http.StatusOK, w.Code)
	recs := decodeRecords(t, w)
	require.Len(t, recs, 1)
	assert.Equal(t, "from redis", recs[0].Message)
}

func TestPermutations(t *testing.T) {
	f := newFixture(t, true, 0)
	f.post("/v1/log", `{"level":"ERROR","message":"m","throwable":{"type":"E","stackTrace":[{"className":"xa","methodName":"m","lineNumber":1}]}}`,
		map[string]string{HeaderPermutation: "P1"})
	f.post("/v1/log", `{"level":"INFO","message":"m"}`, map[string]string{HeaderPermutation: "P2"})

	w := f.get("/v1/permutations")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sources        []string            `json:"sources"`
		DevPermutation string              `json:"dev_permutation"`
		Permutations   []permutationStatus `json:"permutations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"test"}, body.Sources)
	assert.Equal(t, deobf.DefaultDevPermutation, body.DevPermutation)
	require.Len(t, body.Permutations, 1, "P2 carried no throwable, so nothing was loaded")

	p1 := body.Permutations[0]
	assert.Equal(t, "P1", p1.Permutation)
	assert.True(t, p1.Available)
	assert.True(t, p1.Checked)
	assert.Equal(t, []mapStatus{{Source: "test", Symbols: 1}}, p1.Maps)
}

func TestTail_StreamsRecords(t *testing.T) {
	f := newFixture(t, false, 0)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/tail?level=warn"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/v1/log", "application/json",
		bytes.NewBufferString(`[{"level":"INFO","message":"quiet"},{"level":"ERROR","message":"loud"}]`))
	require.NoError(t, err)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rec model.LogRecord
	require.NoError(t, conn.ReadJSON(&rec))
	assert.Equal(t, "loud", rec.Message)

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDecodeBatch_FieldsAndDefaults(t *testing.T) {
	recs, _, err := decodeBatch([]byte(`{"level":4,"message":"m","fields":{"a":"b","n":null},
		"throwable":{"type":"E","stackTrace":[{"className":"C","methodName":"m"}],"cause":null}}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, model.LevelError, rec.Level)
	assert.Equal(t, map[string]string{"a": "b", "n": "null"}, rec.Fields)
	require.NotNil(t, rec.Throwable)
	assert.Nil(t, rec.Throwable.Cause)
	assert.Equal(t, model.UnknownLine, rec.Throwable.StackTrace[0].LineNumber)
	assert.Empty(t, rec.Throwable.StackTrace[0].FileName)
}

func TestDecodeThrowable_DeepChain(t *testing.T) {
	const depth = 200
	var b strings.Builder
	for i := 0; i < depth; i++ {
		b.WriteString(`{"type":"E","cause":`)
	}
	b.WriteString("null")
	for i := 0; i < depth; i++ {
		b.WriteString("}")
	}
	recs, _, err := decodeBatch([]byte(`{"level":"ERROR","throwable":` + b.String() + `}`))
	require.NoError(t, err)
	assert.Equal(t, depth, recs[0].Throwable.Depth())
}

func TestConcurrentIngest(t *testing.T) {
	f := newFixture(t, true, 0)
	body := `{"level":"ERROR","message":"m","throwable":{"type":"E","stackTrace":[{"className":"Unknown","methodName":"zz","lineNumber":-1}]}}`

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.post("/v1/log", body, map[string]string{HeaderPermutation: "RACE"})
		}()
	}
	wg.Wait()

	assert.Len(t, f.warnings.List(10, model.LevelTrace), 1)
	assert.Len(t, f.buffer.List(100, model.LevelTrace), 20)
}
