package api

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/classboard/internal/db"
	"github.com/manpreetbhatti/classboard/internal/export"
	"github.com/manpreetbhatti/classboard/internal/logger"
	"github.com/manpreetbhatti/classboard/internal/monitor"
	"github.com/manpreetbhatti/classboard/internal/ws"
)

// IdentityHeader names the caller. The realtime relay uses the same identity
// in its ?user= query parameter.
const IdentityHeader = "X-Classboard-User"

type Options struct {
	UploadDir      string
	PublicURL      string
	MaxUploadBytes int64
	Debug          bool
}

type API struct {
	hub      *ws.Hub
	database *db.Database
	monitor  *monitor.Monitor
	opts     Options
	log      logger.Logger
}

func New(hub *ws.Hub, database *db.Database, mon *monitor.Monitor, opts Options, log logger.Logger) *API {
	if log == nil {
		log = logger.Nop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &API{hub: hub, database: database, monitor: mon, opts: opts, log: log}
}

// Echo builds the router with every endpoint and the relay mounted on /ws.
func (a *API) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Debug = a.opts.Debug
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, IdentityHeader},
	}))

	e.Validator = &appValidator{validate: validator.New()}
	e.HTTPErrorHandler = a.handleError

	e.GET("/health", a.health)
	e.GET("/ws", echo.WrapHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(a.hub, w, r)
	})))
	if a.opts.UploadDir != "" {
		e.Static("/uploads", a.opts.UploadDir)
	}

	g := e.Group("/api")
	g.GET("/stats", a.stats)

	g.GET("/sessions", a.listSessions)
	g.POST("/sessions", a.createSession)
	g.GET("/sessions/code/:code", a.getSessionByCode)
	g.GET("/sessions/:id", a.getSession)
	g.DELETE("/sessions/:id", a.deleteSession)

	g.GET("/sessions/:id/participants", a.listParticipants)
	g.POST("/sessions/:id/participants", a.joinSession)
	g.PUT("/sessions/:id/participants/:identity/can-draw", a.setCanDraw)
	g.POST("/sessions/:id/presence", a.syncPresence)
	g.POST("/sessions/:id/strokes", a.recordStroke)

	g.GET("/sessions/:id/snapshots", a.listSnapshots)
	g.POST("/sessions/:id/snapshots", a.saveSnapshot)
	g.GET("/sessions/:id/snapshots/latest", a.latestSnapshot)
	g.GET("/sessions/:id/snapshots/pdf", a.exportPDF)
	g.GET("/snapshots/:snapshot", a.getSnapshot)

	g.GET("/sessions/:id/uploads", a.listUploads)
	g.POST("/sessions/:id/uploads", a.upload)

	return e
}

type okResponse struct {
	OK bool `json:"ok"`
}

func ok(c echo.Context) error {
	return c.JSON(http.StatusOK, okResponse{OK: true})
}

func caller(c echo.Context) (string, error) {
	id := strings.TrimSpace(c.Request().Header.Get(IdentityHeader))
	if id == "" {
		id = strings.TrimSpace(c.QueryParam("user"))
	}
	if id == "" {
		return "", errNoIdentity
	}
	return id, nil
}

func (a *API) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

// session loads the :id session, translating a miss into 404.
func (a *API) session(c echo.Context) (*db.Session, error) {
	s, err := a.database.GetSession(c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		return nil, errNotFound
	}
	return s, err
}

// owner resolves the caller and requires them to own the :id session.
func (a *API) owner(c echo.Context) (*db.Session, string, error) {
	id, err := caller(c)
	if err != nil {
		return nil, "", err
	}
	s, err := a.session(c)
	if err != nil {
		return nil, "", err
	}
	if s.CreatedBy != id {
		return nil, "", errNotOwner
	}
	return s, id, nil
}

// drawer resolves the caller and requires them to own the :id session or
// hold can_draw in it.
func (a *API) drawer(c echo.Context) (*db.Session, string, error) {
	id, err := caller(c)
	if err != nil {
		return nil, "", err
	}
	s, err := a.session(c)
	if err != nil {
		return nil, "", err
	}
	if s.CreatedBy == id {
		return s, id, nil
	}
	p, err := a.database.GetParticipant(s.ID, id)
	if errors.Is(err, db.ErrNotFound) || (err == nil && !p.CanDraw) {
		return nil, "", errCannotDraw
	}
	if err != nil {
		return nil, "", err
	}
	return s, id, nil
}

func (a *API) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) stats(c echo.Context) error {
	stats := echo.Map{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if a.monitor != nil {
		stats["relay"] = a.monitor.Stats()
	}
	if dbStats, err := a.database.GetStats(); err == nil {
		for k, v := range dbStats {
			stats[k] = v
		}
	} else {
		a.log.Warn("api: stats", err)
	}
	return c.JSON(http.StatusOK, stats)
}

// Sessions

type sessionResponse struct {
	*db.Session
	Present  []string `json:"present"`
	Retained int      `json:"retained"`
}

type createSessionRequest struct {
	Title     string `json:"title" validate:"required,max=120"`
	CreatedBy string `json:"created_by" validate:"required,max=64"`
}

func (a *API) describe(s *db.Session) sessionResponse {
	return sessionResponse{Session: s, Present: a.hub.Presence(s.ID), Retained: a.hub.Retained(s.ID)}
}

func (a *API) listSessions(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	sessions, err := a.database.ListSessions(limit, offset)
	if err != nil {
		return errors.Wrap(err, "list sessions")
	}
	out := make([]sessionResponse, len(sessions))
	for i := range sessions {
		out[i] = a.describe(&sessions[i])
	}
	return c.JSON(http.StatusOK, echo.Map{
		"sessions": out,
		"limit":    limit,
		"offset":   offset,
	})
}

func joinCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func (a *API) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := a.bind(c, &req); err != nil {
		return err
	}

	s, err := a.database.CreateSession(uuid.NewString(), req.Title, joinCode(), req.CreatedBy)
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	a.log.Info("api: session created", map[string]interface{}{"id": s.ID, "owner": s.CreatedBy})
	return c.JSON(http.StatusCreated, a.describe(s))
}

func (a *API) getSession(c echo.Context) error {
	s, err := a.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a.describe(s))
}

func (a *API) getSessionByCode(c echo.Context) error {
	s, err := a.database.GetSessionByCode(strings.ToUpper(c.Param("code")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a.describe(s))
}

func (a *API) deleteSession(c echo.Context) error {
	s, _, err := a.owner(c)
	if err != nil {
		return err
	}
	if err := a.database.DeleteSession(s.ID); err != nil {
		return errors.Wrap(err, "delete session")
	}
	a.hub.ResetRoom(s.ID)
	return ok(c)
}

// Participants

type joinRequest struct {
	Identity    string `json:"identity" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"max=120"`
}

type canDrawRequest struct {
	CanDraw *bool `json:"can_draw" validate:"required"`
}

type presenceRequest struct {
	Present []string `json:"present" validate:"dive,required"`
}

type presenceResponse struct {
	OK      bool     `json:"ok"`
	Revoked []string `json:"revoked"`
}

func (a *API) listParticipants(c echo.Context) error {
	s, err := a.session(c)
	if err != nil {
		return err
	}
	participants, err := a.database.ListParticipants(s.ID)
	if err != nil {
		return errors.Wrap(err, "list participants")
	}
	return c.JSON(http.StatusOK, echo.Map{"participants": participants})
}

func (a *API) joinSession(c echo.Context) error {
	var req joinRequest
	if err := a.bind(c, &req); err != nil {
		return err
	}
	s, err := a.session(c)
	if err != nil {
		return err
	}
	p, err := a.database.JoinParticipant(s.ID, req.Identity, req.DisplayName)
	if err != nil {
		return errors.Wrap(err, "join session")
	}
	return c.JSON(http.StatusOK, p)
}

func (a *API) setCanDraw(c echo.Context) error {
	var req canDrawRequest
	if err := a.bind(c, &req); err != nil {
		return err
	}
	s, _, err := a.owner(c)
	if err != nil {
		return err
	}
	target := c.Param("identity")
	if target == s.CreatedBy {
		return ok(c)
	}
	if err := a.database.SetCanDraw(s.ID, target, *req.CanDraw); err != nil {
		return err
	}
	a.log.Info("api: can_draw changed", map[string]interface{}{"session": s.ID, "identity": target, "can_draw": *req.CanDraw})
	return ok(c)
}

func (a *API) syncPresence(c echo.Context) error {
	var req presenceRequest
	if err := a.bind(c, &req); err != nil {
		return err
	}
	s, _, err := a.owner(c)
	if err != nil {
		return err
	}
	revoked, err := a.database.RevokeAbsent(s.ID, req.Present)
	if err != nil {
		return errors.Wrap(err, "revoke absent")
	}
	if revoked == nil {
		revoked = []string{}
	}
	return c.JSON(http.StatusOK, presenceResponse{OK: true, Revoked: revoked})
}

func (a *API) recordStroke(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	if err := a.database.RecordStroke(c.Param("id"), id); err != nil {
		return err
	}
	return ok(c)
}

// Snapshots

type saveResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

// readForm reads the named multipart file, enforcing the upload size limit.
func (a *API) readForm(c echo.Context, field string) (string, []byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", nil, echo.NewHTTPError(http.StatusBadRequest, "missing_"+field).SetInternal(err)
	}
	if fh.Size > a.opts.MaxUploadBytes {
		return "", nil, errTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, a.opts.MaxUploadBytes+1))
	if err != nil {
		return "", nil, err
	}
	if int64(len(data)) > a.opts.MaxUploadBytes {
		return "", nil, errTooLarge
	}
	return fh.Filename, data, nil
}

func (a *API) saveSnapshot(c echo.Context) error {
	s, id, err := a.drawer(c)
	if err != nil {
		return err
	}
	_, data, err := a.readForm(c, "image")
	if err != nil {
		return err
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err != nil || format != "png" {
		return errInvalidImage
	}

	url := a.opts.PublicURL + "/api/sessions/" + s.ID + "/snapshots/latest"
	if _, err := a.database.SaveSnapshot(s.ID, id, data, url); err != nil {
		return errors.Wrap(err, "save snapshot")
	}
	return c.JSON(http.StatusOK, saveResponse{OK: true, URL: url})
}

func (a *API) listSnapshots(c echo.Context) error {
	s, err := a.session(c)
	if err != nil {
		return err
	}
	snapshots, err := a.database.ListSnapshots(s.ID)
	if err != nil {
		return errors.Wrap(err, "list snapshots")
	}
	return c.JSON(http.StatusOK, echo.Map{"snapshots": snapshots})
}

func (a *API) latestSnapshot(c echo.Context) error {
	snap, err := a.database.LatestSnapshot(c.Param("id"))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", snap.Data)
}

func (a *API) getSnapshot(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("snapshot"))
	if err != nil {
		return errNotFound
	}
	snap, err := a.database.GetSnapshot(id)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", snap.Data)
}

func (a *API) exportPDF(c echo.Context) error {
	s, err := a.session(c)
	if err != nil {
		return err
	}
	listed, err := a.database.ListSnapshots(s.ID)
	if err != nil {
		return errors.Wrap(err, "list snapshots")
	}
	if len(listed) == 0 {
		return errNotFound
	}

	pages := make([]export.Page, 0, len(listed))
	for _, meta := range listed {
		snap, err := a.database.GetSnapshot(meta.ID)
		if err != nil {
			return err
		}
		pages = append(pages, export.Page{
			Caption: snap.CreatedAt.Format("2006-01-02 15:04"),
			PNG:     snap.Data,
		})
	}

	var buf bytes.Buffer
	if err := export.WritePDF(&buf, s.Title, pages...); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", s.Code+".pdf"))
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

// Uploads

type uploadResponse struct {
	OK      bool   `json:"ok"`
	FileURL string `json:"file_url"`
}

func (a *API) upload(c echo.Context) error {
	s, id, err := a.drawer(c)
	if err != nil {
		return err
	}
	name, data, err := a.readForm(c, "file")
	if err != nil {
		return err
	}

	dir := filepath.Join(a.opts.UploadDir, s.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	stored := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	if err := os.WriteFile(filepath.Join(dir, stored), data, 0644); err != nil {
		return errors.Wrap(err, "store upload")
	}

	url := a.opts.PublicURL + "/uploads/" + s.ID + "/" + stored
	if _, err := a.database.RecordUpload(s.ID, id, name, url, int64(len(data))); err != nil {
		return errors.Wrap(err, "record upload")
	}
	a.log.Info("api: upload stored", map[string]interface{}{
		"session": s.ID, "name": name, "size": humanize.Bytes(uint64(len(data))),
	})
	return c.JSON(http.StatusOK, uploadResponse{OK: true, FileURL: url})
}

func (a *API) listUploads(c echo.Context) error {
	s, err := a.session(c)
	if err != nil {
		return err
	}
	uploads, err := a.database.ListUploads(s.ID)
	if err != nil {
		return errors.Wrap(err, "list uploads")
	}
	return c.JSON(http.StatusOK, echo.Map{"uploads": uploads})
}
