package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"wellness_hub/server/common/middleware"
	"wellness_hub/server/common/transport/httpresp"
	"wellness_hub/server/hub/domain"
	"wellness_hub/server/hub/service"
)

type tokenAuth interface {
	VerifyToken(token string) (string, error)
}

type Handler struct {
	hub      *service.Hub
	auth     tokenAuth
	upgrader websocket.Upgrader
	wsCfg    service.WSConfig
}

// NewHandler builds the HTTP surface of the hub. An empty allowedOrigins
// accepts any WebSocket origin.
func NewHandler(hub *service.Hub, auth tokenAuth, allowedOrigins []string, wsCfg service.WSConfig) *Handler {
	return &Handler{
		hub:      hub,
		auth:     auth,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
		wsCfg:    wsCfg,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/ws", h.handleWS)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.GET("/messages/:peerId", h.listMessages)
		api.POST("/messages", h.sendMessage)
		api.PUT("/messages/:id", h.editMessage)
		api.DELETE("/messages/:id", h.deleteMessage)

		api.GET("/forum/posts", h.listForumPosts)
		api.POST("/forum/posts", h.createForumPost)
		api.PUT("/forum/posts/:id", h.editForumPost)
		api.DELETE("/forum/posts/:id", h.deleteForumPost)
		api.POST("/forum/uploads", h.uploadAttachment)

		api.GET("/todos", h.listTodos)
		api.POST("/todos", h.createTodo)
		api.PUT("/todos/:id", h.editTodo)
		api.DELETE("/todos/:id", h.deleteTodo)
	}
}

func (h *Handler) health(c *gin.Context) {
	if err := h.hub.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, NewHealthResponse("unavailable"))
		return
	}
	c.JSON(http.StatusOK, NewHealthResponse("ok"))
}

func (h *Handler) handleWS(c *gin.Context) {
	token, _ := middleware.BearerToken(c.Request)
	var conn *service.WSConn
	session, err := h.hub.Accept(token, func(userID string) (service.Conn, error) {
		ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return nil, err
		}
		conn = service.NewWSConn(ws, userID, h.wsCfg)
		return conn, nil
	})
	if err != nil {
		// A failed upgrade has already been answered by the upgrader.
		if errors.Is(err, domain.ErrAuthentication) {
			writeError(c, err)
		}
		return
	}
	conn.Serve(c.Request.Context(), session)
}

func writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.CodeAuthentication:
		status = http.StatusUnauthorized
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeAuthorization:
		status = http.StatusForbidden
	case domain.CodeNotFound:
		status = http.StatusNotFound
	}
	c.JSON(status, httpresp.NewCodedErrorResponse(code, domain.PublicMessage(err)))
}

func actor(c *gin.Context) (string, bool) {
	userID, ok := middleware.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return "", false
	}
	return userID, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, domain.Validationf("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, domain.Validationf("invalid request body"))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validationf("%s must be an integer", key)
	}
	return v, nil
}

const defaultPageSize = 50

func (h *Handler) listMessages(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		writeError(c, err)
		return
	}
	pageSize, err := queryInt(c, "page_size", defaultPageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	items, err := h.hub.ListMessages(c.Request.Context(), actorID, c.Param("peerId"), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewPageResponse(items, page, pageSize))
}

func (h *Handler) sendMessage(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	var req service.SendMessage
	if !bindJSON(c, &req) {
		return
	}
	if req.SenderID == "" {
		req.SenderID = actorID
	}
	msg, err := h.hub.SendMessage(c.Request.Context(), actorID, nil, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) editMessage(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.hub.EditMessage(c.Request.Context(), actorID, nil, service.EditMessage{MessageID: id, Content: req.Content})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := h.hub.DeleteMessage(c.Request.Context(), actorID, nil, service.DeleteMessage{MessageID: id}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) listForumPosts(c *gin.Context) {
	items, err := h.hub.ListForumPosts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewItemsResponse(items))
}

func (h *Handler) createForumPost(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	var req service.SendForumPost
	if !bindJSON(c, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = actorID
	}
	post, err := h.hub.SendForumPost(c.Request.Context(), actorID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *Handler) editForumPost(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	// An omitted file_ref keeps the stored file; remove_file drops it.
	var req struct {
		Content    *string `json:"content"`
		FileRef    *string `json:"file_ref"`
		RemoveFile bool    `json:"remove_file"`
	}
	if !bindJSON(c, &req) {
		return
	}
	post, err := h.hub.EditForumPost(c.Request.Context(), actorID, service.EditForumPost{
		PostID:   id,
		Content:  req.Content,
		FileRef:  req.FileRef,
		KeepFile: req.FileRef == nil && !req.RemoveFile,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *Handler) deleteForumPost(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := h.hub.DeleteForumPost(c.Request.Context(), actorID, service.DeleteForumPost{PostID: id}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) uploadAttachment(c *gin.Context) {
	if _, ok := actor(c); !ok {
		return
	}
	attachments := h.hub.Attachments()
	if attachments == nil {
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse("file uploads are disabled"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		writeError(c, domain.Validationf("multipart field file is required"))
		return
	}
	f, err := header.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	up, err := attachments.Store(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, up)
}

func (h *Handler) listTodos(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	var date *time.Time
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		day, err := domain.ParseDay(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		date = &day
	}
	items, err := h.hub.ListTodos(c.Request.Context(), actorID, date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewItemsResponse(items))
}

func (h *Handler) createTodo(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	var req service.CreateTodo
	if !bindJSON(c, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = actorID
	}
	todo, err := h.hub.CreateTodo(c.Request.Context(), actorID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, todo)
}

func (h *Handler) editTodo(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.EditTodo
	if !bindJSON(c, &req) {
		return
	}
	req.TodoID = id
	todo, err := h.hub.EditTodo(c.Request.Context(), actorID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (h *Handler) deleteTodo(c *gin.Context) {
	actorID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := h.hub.DeleteTodo(c.Request.Context(), actorID, service.DeleteTodo{TodoID: id}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewOKResponse())
}
