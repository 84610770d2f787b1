package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/service"
	httptransport "conversion-job-service/internal/transport/http"
)

// ---- fakes ----

type controllerStub struct {
	createID  uuid.UUID
	result    entity.ValidationResult
	submitErr error
	jobs      map[uuid.UUID]entity.Job
	events    []service.Event
	submitted []entity.JobRequest
	cancelled []uuid.UUID
	sinceSeen int64
}

func (c *controllerStub) Validate(req entity.JobRequest) entity.ValidationResult {
	return c.result
}

func (c *controllerStub) Submit(ctx context.Context, req entity.JobRequest) (uuid.UUID, error) {
	if !c.result.Valid {
		return uuid.Nil, &service.ValidationError{Result: c.result}
	}
	if c.submitErr != nil {
		return uuid.Nil, c.submitErr
	}
	c.submitted = append(c.submitted, req)
	return c.createID, nil
}

func (c *controllerStub) Status(id uuid.UUID) (entity.Job, error) {
	j, ok := c.jobs[id]
	if !ok {
		return entity.Job{}, service.ErrNotFound
	}
	return j, nil
}

func (c *controllerStub) List() []entity.Job {
	out := make([]entity.Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j)
	}
	return out
}

func (c *controllerStub) Cancel(id uuid.UUID) (entity.Job, error) {
	j, ok := c.jobs[id]
	if !ok {
		return entity.Job{}, service.ErrNotFound
	}
	c.cancelled = append(c.cancelled, id)
	j.CancelRequested = true
	return j, nil
}

func (c *controllerStub) Events(id uuid.UUID, seq int64) ([]service.Event, error) {
	if _, ok := c.jobs[id]; !ok {
		return nil, service.ErrNotFound
	}
	c.sinceSeen = seq
	return c.events, nil
}

// ---- helpers ----

func newTestRouter(c *controllerStub) http.Handler {
	return httptransport.Routes(httptransport.NewHandler(c), zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const validBody = `{"source_url":"https://example.com/a.html","audio_path":"/tmp/a.mp3","destination_dir":"/tmp"}`

// ---- tests ----

func TestHTTP_CreateJob_202(t *testing.T) {
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	stub := &controllerStub{createID: id, result: entity.ValidationResult{Valid: true}}

	rr := do(t, newTestRouter(stub), http.MethodPost, "/jobs", validBody)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, id.String(), resp.ID)

	require.Len(t, stub.submitted, 1)
	require.Equal(t, "https://example.com/a.html", stub.submitted[0].SourceURL)
	require.Equal(t, "/tmp/a.mp3", stub.submitted[0].AudioPath)
	require.Equal(t, "/tmp", stub.submitted[0].DestinationDir)
}

func TestHTTP_CreateJob_422_WithValidationResult(t *testing.T) {
	stub := &controllerStub{result: entity.ValidationResult{
		Valid:       false,
		Message:     "audio file is 500 MiB, limit is 50 MiB",
		Suggestions: []string{"reduce the audio file size below the 50 MiB limit"},
	}}

	rr := do(t, newTestRouter(stub), http.MethodPost, "/jobs", validBody)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var got entity.ValidationResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.False(t, got.Valid)
	require.Equal(t, stub.result.Suggestions, got.Suggestions)
	require.Empty(t, stub.submitted)
}

func TestHTTP_CreateJob_StatusForErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
		{name: "closed", body: validBody, err: service.ErrClosed, code: http.StatusServiceUnavailable},
		{name: "internal", body: validBody, err: errors.New("boom"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &controllerStub{result: entity.ValidationResult{Valid: true}, submitErr: tt.err}
			rr := do(t, newTestRouter(stub), http.MethodPost, "/jobs", tt.body)
			require.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}
}

func TestHTTP_Validate_200(t *testing.T) {
	stub := &controllerStub{result: entity.ValidationResult{
		Valid:    false,
		Message:  "destination is not writable",
		Problems: []entity.Problem{{Field: "destination_dir", Reason: entity.ReasonNotWritable}},
	}}

	rr := do(t, newTestRouter(stub), http.MethodPost, "/validate", validBody)
	require.Equal(t, http.StatusOK, rr.Code)

	var got entity.ValidationResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.True(t, got.HasReason("destination_dir", entity.ReasonNotWritable))
}

func TestHTTP_GetJob(t *testing.T) {
	id := uuid.New()
	started := time.Now().UTC()
	stub := &controllerStub{jobs: map[uuid.UUID]entity.Job{
		id: {
			ID:        id,
			State:     entity.StateProcessing,
			Stage:     entity.StageIngestAudio,
			Progress:  35,
			CreatedAt: started,
			StartedAt: &started,
		},
	}}
	router := newTestRouter(stub)

	rr := do(t, router, http.MethodGet, "/jobs/"+id.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "processing", got["state"])
	require.Equal(t, entity.StageIngestAudio, got["stage"])
	require.Equal(t, float64(35), got["progress"])
	require.NotContains(t, got, "finished_at")

	require.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/jobs/"+uuid.NewString(), "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/jobs/not-a-uuid", "").Code)
}

func TestHTTP_CancelJob_202(t *testing.T) {
	id := uuid.New()
	stub := &controllerStub{jobs: map[uuid.UUID]entity.Job{id: {ID: id, State: entity.StateProcessing}}}

	rr := do(t, newTestRouter(stub), http.MethodPost, "/jobs/"+id.String()+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []uuid.UUID{id}, stub.cancelled)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, true, got["cancel_requested"])
}

func TestHTTP_GetJobResult_409_WhenNotCompleted(t *testing.T) {
	id := uuid.New()
	stub := &controllerStub{jobs: map[uuid.UUID]entity.Job{id: {ID: id, State: entity.StateProcessing}}}

	rr := do(t, newTestRouter(stub), http.MethodGet, "/jobs/"+id.String()+"/result", "")
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHTTP_GetJobResult_200_WhenCompleted(t *testing.T) {
	id := uuid.New()
	stub := &controllerStub{jobs: map[uuid.UUID]entity.Job{
		id: {
			ID:    id,
			State: entity.StateCompleted,
			Result: &entity.Result{
				OutputPath: "/out/story.zip",
				ItemCount:  12,
				Elapsed:    1500 * time.Millisecond,
			},
		},
	}}

	rr := do(t, newTestRouter(stub), http.MethodGet, "/jobs/"+id.String()+"/result", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"output_path":"/out/story.zip","item_count":12,"elapsed_ms":1500}`, rr.Body.String())
}

func TestHTTP_GetJobEvents(t *testing.T) {
	id := uuid.New()
	stub := &controllerStub{
		jobs:   map[uuid.UUID]entity.Job{id: {ID: id}},
		events: []service.Event{{Seq: 8, JobID: id, Type: service.EventTypeStage, Stage: entity.StageFetchSource}},
	}
	router := newTestRouter(stub)

	rr := do(t, router, http.MethodGet, "/jobs/"+id.String()+"/events?since=7", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(7), stub.sinceSeen)

	var got []service.Event
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, int64(8), got[0].Seq)

	rr = do(t, router, http.MethodGet, "/jobs/"+id.String()+"/events?since=-1", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTTP_Health(t *testing.T) {
	rr := do(t, newTestRouter(&controllerStub{}), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}
