package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unchained/internal/core/apperror"
	appctx "unchained/internal/core/context"
	"unchained/internal/domain/application"
	"unchained/internal/domain/auth"
	"unchained/internal/infrastructure/files"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

type call struct {
	op     string
	entity string
	pk     int64
	arg    any
	viewer *appctx.Viewer
}

type fakeApplications struct {
	calls []call
	err   error
	read  string
}

func (f *fakeApplications) record(ctx context.Context, op, entity string, pk int64, arg any) (*application.Page, error) {
	f.calls = append(f.calls, call{op: op, entity: entity, pk: pk, arg: arg, viewer: appctx.GetViewer(ctx)})
	if f.err != nil {
		return nil, f.err
	}
	return &application.Page{AppID: entity, Module: metadata.ModuleDashboard}, nil
}

func (f *fakeApplications) last() call { return f.calls[len(f.calls)-1] }

func (f *fakeApplications) Applications(ctx context.Context) []*metadata.Link {
	return []*metadata.Link{{Route: metadata.RouteApp, Params: map[string]any{"app": "horses"}}}
}

func (f *fakeApplications) Dashboard(ctx context.Context, entityID string, params map[string]any) (*application.Page, error) {
	return f.record(ctx, "dashboard", entityID, 0, params)
}

func (f *fakeApplications) Search(ctx context.Context, entityID, q string) (*application.Page, error) {
	return f.record(ctx, "search", entityID, 0, q)
}

func (f *fakeApplications) Detail(ctx context.Context, entityID, slug string) (*application.Page, error) {
	return f.record(ctx, "detail", entityID, 0, slug)
}

func (f *fakeApplications) Form(ctx context.Context, entityID string, pk int64) (*application.Page, error) {
	return f.record(ctx, "form", entityID, pk, nil)
}

func (f *fakeApplications) Save(ctx context.Context, entityID string, pk int64, values map[string]any) (*application.Page, error) {
	if up, ok := values["photo"].(files.Upload); ok {
		data, _ := io.ReadAll(up.Content)
		f.read = up.Filename + ":" + string(data)
	}
	return f.record(ctx, "save", entityID, pk, values)
}

func (f *fakeApplications) Delete(ctx context.Context, entityID string, params map[string]any) (*application.Page, error) {
	return f.record(ctx, "delete", entityID, 0, params)
}

func (f *fakeApplications) Duplicate(ctx context.Context, entityID string, pk int64) (*application.Page, error) {
	return f.record(ctx, "duplicate", entityID, pk, nil)
}

func (f *fakeApplications) FieldOptions(ctx context.Context, entityID, fieldID string, current any) ([]metadata.Option, error) {
	if _, err := f.record(ctx, "options", entityID, 0, current); err != nil {
		return nil, err
	}
	return []metadata.Option{{Key: 2, Label: "black"}}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

const secret = "test-secret"

func newTestRouter(t *testing.T, svc *fakeApplications, db fakePinger) http.Handler {
	t.Helper()
	return NewRouter(RouterConfig{
		Applications: svc,
		DB:           db,
		Logger:       logger.Nop(),
		JWTValidator: auth.NewJWTService(auth.DefaultJWTConfig(secret)),
		Version:      "test",
	})
}

func bearer(t *testing.T) string {
	t.Helper()
	token, _, err := auth.NewJWTService(auth.DefaultJWTConfig(secret)).GenerateAccessToken("admin", nil, "")
	require.NoError(t, err)
	return "Bearer " + token
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRouter_Health(t *testing.T) {
	h := newTestRouter(t, &fakeApplications{}, fakePinger{})
	assert.Equal(t, http.StatusOK, do(h, httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	assert.Equal(t, http.StatusOK, do(h, httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)

	down := newTestRouter(t, &fakeApplications{}, fakePinger{err: errors.New("refused")})
	assert.Equal(t, http.StatusServiceUnavailable, do(down, httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)
}

func TestRouter_DashboardAndSearch(t *testing.T) {
	svc := &fakeApplications{}
	h := newTestRouter(t, svc, fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/horses?color=1&stables[]=1&stables[]=2", nil)
	req.Header.Set("Accept-Language", "de-CH,de;q=0.9")
	w := do(h, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "horses", decode(t, w)["appId"])

	c := svc.last()
	assert.Equal(t, "dashboard", c.op)
	assert.Equal(t, map[string]any{"color": "1", "stables": []any{"1", "2"}}, c.arg)
	require.NotNil(t, c.viewer)
	assert.False(t, c.viewer.Authenticated)
	assert.Equal(t, "de", c.viewer.Locale)

	do(h, httptest.NewRequest(http.MethodGet, "/api/v1/apps/horses?q=buc", nil))
	assert.Equal(t, call{op: "search", entity: "horses", arg: "buc", viewer: svc.last().viewer}, svc.last())
}

func TestRouter_Errors(t *testing.T) {
	svc := &fakeApplications{err: apperror.NewNotFound("application", "unicorns")}
	h := newTestRouter(t, svc, fakePinger{})

	w := do(h, httptest.NewRequest(http.MethodGet, "/api/v1/apps/unicorns", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperror.CodeNotFound, decode(t, w)["code"])

	svc.err = errors.New("boom")
	w = do(h, httptest.NewRequest(http.MethodGet, "/api/v1/apps/horses", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode(t, w)["message"])
}

func TestRouter_WritesNeedAuthentication(t *testing.T) {
	svc := &fakeApplications{}
	h := newTestRouter(t, svc, fakePinger{})

	w := do(h, httptest.NewRequest(http.MethodGet, "/api/v1/apps/horses/form", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.calls)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/horses/form/3", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	assert.Equal(t, http.StatusUnauthorized, do(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/apps/horses/form/3", nil)
	req.Header.Set("Authorization", bearer(t))
	require.Equal(t, http.StatusOK, do(h, req).Code)
	assert.Equal(t, int64(3), svc.last().pk)
	assert.Equal(t, "admin", svc.last().viewer.Subject)
}

func TestRouter_SaveJSON(t *testing.T) {
	svc := &fakeApplications{}
	h := newTestRouter(t, svc, fakePinger{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/apps/horses/records", bytes.NewBufferString(`{"name":"Marengo","owner":3}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t))
	w := do(h, req)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, map[string]any{"name": "Marengo", "owner": float64(3)}, svc.last().arg)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/apps/horses/records/4", bytes.NewBufferString(`{"name":"Marengo"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t))
	require.Equal(t, http.StatusOK, do(h, req).Code)
	assert.Equal(t, int64(4), svc.last().pk)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/apps/horses/records/zero", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", bearer(t))
	assert.Equal(t, http.StatusBadRequest, do(h, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/apps/horses/records", bytes.NewBufferString(`[broken`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t))
	assert.Equal(t, http.StatusBadRequest, do(h, req).Code)
}

func TestRouter_SaveMultipart(t *testing.T) {
	svc := &fakeApplications{}
	h := newTestRouter(t, svc, fakePinger{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "Bucephalus"))
	require.NoError(t, mw.WriteField("stables[]", "1"))
	require.NoError(t, mw.WriteField("stables[]", "2"))
	fw, err := mw.CreateFormFile("photo", "horse.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/apps/horses/records", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t))
	require.Equal(t, http.StatusCreated, do(h, req).Code)

	values := svc.last().arg.(map[string]any)
	assert.Equal(t, "Bucephalus", values["name"])
	assert.Equal(t, []any{"1", "2"}, values["stables"])
	assert.Equal(t, "horse.png:png", svc.read)
}

func TestRouter_Delete(t *testing.T) {
	svc := &fakeApplications{}
	h := newTestRouter(t, svc, fakePinger{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/apps/horses/records/7", nil)
	req.Header.Set("Authorization", bearer(t))
	require.Equal(t, http.StatusOK, do(h, req).Code)
	assert.Equal(t, map[string]any{"id": "7"}, svc.last().arg)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/apps/horses/records?color=1", nil)
	req.Header.Set("Authorization", bearer(t))
	require.Equal(t, http.StatusOK, do(h, req).Code)
	assert.Equal(t, map[string]any{"color": "1"}, svc.last().arg)

	calls := len(svc.calls)
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/apps/horses/records", nil)
	req.Header.Set("Authorization", bearer(t))
	assert.Equal(t, http.StatusBadRequest, do(h, req).Code)
	assert.Len(t, svc.calls, calls)
}

func TestRouter_FieldOptions(t *testing.T) {
	svc := &fakeApplications{}
	h := newTestRouter(t, svc, fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps/horses/fields/color/options?current=1", nil)
	req.Header.Set("Authorization", bearer(t))
	w := do(h, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", svc.last().arg)
	assert.Len(t, decode(t, w)["options"], 1)
}

func TestRouter_List(t *testing.T) {
	h := newTestRouter(t, &fakeApplications{}, fakePinger{})
	w := do(h, httptest.NewRequest(http.MethodGet, "/api/v1/apps", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["applications"], 1)
}

func TestRouter_RecoversPanics(t *testing.T) {
	h := NewRouter(RouterConfig{Applications: &panicking{}, Logger: logger.Nop()})
	w := do(h, httptest.NewRequest(http.MethodGet, "/api/v1/apps/horses", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, decode(t, w)["code"])
}

type panicking struct{ fakeApplications }

func (panicking) Dashboard(context.Context, string, map[string]any) (*application.Page, error) {
	panic("kaboom")
}
