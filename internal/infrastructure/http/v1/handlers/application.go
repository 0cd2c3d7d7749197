package handlers

import (
	"context"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gin-gonic/gin"

	"unchained/internal/core/apperror"
	"unchained/internal/domain/application"
	"unchained/internal/infrastructure/files"
	"unchained/internal/metadata"
)

// ApplicationService is the application layer the handler drives.
type ApplicationService interface {
	Applications(ctx context.Context) []*metadata.Link
	Dashboard(ctx context.Context, entityID string, params map[string]any) (*application.Page, error)
	Search(ctx context.Context, entityID, q string) (*application.Page, error)
	Detail(ctx context.Context, entityID, slug string) (*application.Page, error)
	Form(ctx context.Context, entityID string, pk int64) (*application.Page, error)
	Save(ctx context.Context, entityID string, pk int64, values map[string]any) (*application.Page, error)
	Delete(ctx context.Context, entityID string, params map[string]any) (*application.Page, error)
	Duplicate(ctx context.Context, entityID string, pk int64) (*application.Page, error)
	FieldOptions(ctx context.Context, entityID, fieldID string, current any) ([]metadata.Option, error)
}

// maxUploadMemory is the multipart size kept in memory before spilling to disk.
const maxUploadMemory = 32 << 20

type ApplicationHandler struct {
	*BaseHandler
	service ApplicationService
}

func NewApplicationHandler(base *BaseHandler, service ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the entity routes on rg. Writes go through write,
// which is expected to carry the authentication requirement.
func (h *ApplicationHandler) RegisterRoutes(rg *gin.RouterGroup, write ...gin.HandlerFunc) {
	rg.GET("", h.List)
	rg.GET("/:app", h.Dashboard)
	rg.GET("/:app/records/:slug", h.Detail)

	w := rg.Group("", write...)
	w.GET("/:app/form", h.Form)
	w.GET("/:app/form/:pk", h.Form)
	w.GET("/:app/fields/:field/options", h.FieldOptions)
	w.POST("/:app/records", h.Create)
	w.PUT("/:app/records/:pk", h.Update)
	w.POST("/:app/records/:pk/duplicate", h.Duplicate)
	w.DELETE("/:app/records/:pk", h.DeleteRecord)
	w.DELETE("/:app/records", h.DeleteBy)
}

// List returns the applications the viewer may open.
// GET /apps
func (h *ApplicationHandler) List(c *gin.Context) {
	h.OK(c, gin.H{"applications": h.service.Applications(c.Request.Context())})
}

// Dashboard lists records. Query parameters filter the rows; q searches the
// exposed representation.
// GET /apps/:app
func (h *ApplicationHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		page *application.Page
		err  error
	)
	if q := c.Query("q"); q != "" {
		page, err = h.service.Search(ctx, c.Param("app"), q)
	} else {
		page, err = h.service.Dashboard(ctx, c.Param("app"), queryParams(c))
	}
	h.respond(c, page, err)
}

// Detail shows one record.
// GET /apps/:app/records/:slug
func (h *ApplicationHandler) Detail(c *gin.Context) {
	page, err := h.service.Detail(c.Request.Context(), c.Param("app"), c.Param("slug"))
	h.respond(c, page, err)
}

// Form renders an empty form, or the form of an existing record.
// GET /apps/:app/form[/:pk]
func (h *ApplicationHandler) Form(c *gin.Context) {
	var pk int64
	if c.Param("pk") != "" {
		var ok bool
		if pk, ok = h.ParamInt64(c, "pk"); !ok {
			return
		}
	}
	page, err := h.service.Form(c.Request.Context(), c.Param("app"), pk)
	h.respond(c, page, err)
}

// Create persists a new record.
// POST /apps/:app/records
func (h *ApplicationHandler) Create(c *gin.Context) {
	h.save(c, 0)
}

// Update persists an existing record.
// PUT /apps/:app/records/:pk
func (h *ApplicationHandler) Update(c *gin.Context) {
	pk, ok := h.ParamInt64(c, "pk")
	if !ok {
		return
	}
	h.save(c, pk)
}

func (h *ApplicationHandler) save(c *gin.Context, pk int64) {
	values, closers, ok := h.values(c)
	if !ok {
		return
	}
	defer func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}()

	page, err := h.service.Save(c.Request.Context(), c.Param("app"), pk, values)
	if err != nil {
		h.Error(c, err)
		return
	}
	if pk == 0 {
		h.Created(c, page)
		return
	}
	h.OK(c, page)
}

// Duplicate copies a record.
// POST /apps/:app/records/:pk/duplicate
func (h *ApplicationHandler) Duplicate(c *gin.Context) {
	pk, ok := h.ParamInt64(c, "pk")
	if !ok {
		return
	}
	page, err := h.service.Duplicate(c.Request.Context(), c.Param("app"), pk)
	h.respond(c, page, err)
}

// DeleteRecord removes one record.
// DELETE /apps/:app/records/:pk
func (h *ApplicationHandler) DeleteRecord(c *gin.Context) {
	page, err := h.service.Delete(c.Request.Context(), c.Param("app"), map[string]any{"id": c.Param("pk")})
	h.respond(c, page, err)
}

// DeleteBy removes every record matching the query parameters.
// DELETE /apps/:app/records?field=value
func (h *ApplicationHandler) DeleteBy(c *gin.Context) {
	params := queryParams(c)
	if len(params) == 0 {
		h.Error(c, apperror.NewValidation("delete needs at least one condition"))
		return
	}
	page, err := h.service.Delete(c.Request.Context(), c.Param("app"), params)
	h.respond(c, page, err)
}

// FieldOptions lists the selectable values of a field.
// GET /apps/:app/fields/:field/options?current=
func (h *ApplicationHandler) FieldOptions(c *gin.Context) {
	var current any
	if v, ok := c.GetQuery("current"); ok && v != "" {
		current = v
	}
	options, err := h.service.FieldOptions(c.Request.Context(), c.Param("app"), c.Param("field"), current)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{"options": options})
}

func (h *ApplicationHandler) respond(c *gin.Context, page *application.Page, err error) {
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, page)
}

// values reads the submitted record: a multipart form with uploads, or a
// JSON object. The returned closers release opened uploads.
func (h *ApplicationHandler) values(c *gin.Context) (map[string]any, []io.Closer, bool) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		values := map[string]any{}
		if !h.BindJSON(c, &values) {
			return nil, nil, false
		}
		return values, nil, true
	}

	form, err := multipartForm(c)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid multipart form").WithDetail("error", err.Error()))
		return nil, nil, false
	}
	values := make(map[string]any, len(form.Value)+len(form.File))
	for k, v := range form.Value {
		values[strings.TrimSuffix(k, "[]")] = listOrScalar(v)
	}

	var closers []io.Closer
	for k, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			for _, cl := range closers {
				_ = cl.Close()
			}
			h.Error(c, apperror.NewValidation("unreadable upload").WithDetail("field", k))
			return nil, nil, false
		}
		closers = append(closers, f)
		values[k] = files.Upload{Filename: headers[0].Filename, Content: f}
	}
	return values, closers, true
}

func multipartForm(c *gin.Context) (*multipart.Form, error) {
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, err
	}
	return c.Request.MultipartForm, nil
}

// queryParams maps query parameters onto conditions. Repeated keys select
// any of their values; q and page controls are not conditions.
func queryParams(c *gin.Context) map[string]any {
	params := make(map[string]any)
	for k, v := range c.Request.URL.Query() {
		if k == "q" || len(v) == 0 {
			continue
		}
		params[strings.TrimSuffix(k, "[]")] = listOrScalar(v)
	}
	return params
}

func listOrScalar(v []string) any {
	if len(v) == 1 {
		return v[0]
	}
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}
