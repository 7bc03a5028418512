package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

const (
	CodeOK             = "OK"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func writeOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: "OK", Data: data})
}

func writeError(c *gin.Context, status int, code, message string, detail any) {
	payload := gin.H{}
	if detail != nil {
		payload["detail"] = detail
	}
	c.JSON(status, Response{Code: code, Message: message, Data: payload})
}

type tagsRequest struct {
	Tags []string `json:"tags" binding:"required"`
}

type IndexData struct {
	Records     []*storage.LogRecord
	Total       int64
	LastUpdated string
}

func (s *Server) handleIndex(c *gin.Context) {
	filter := storage.ListFilter{Status: storage.StatusOpen, Limit: defaultPageSize}
	records, err := s.repo.List(c.Request.Context(), filter)
	if err != nil {
		s.log(c).WithError(err).Error("dashboard", "index", "Failed to load records")
		c.String(http.StatusInternalServerError, "failed to load records")
		return
	}
	total, err := s.repo.Count(c.Request.Context(), storage.ListFilter{Status: storage.StatusOpen})
	if err != nil {
		s.log(c).WithError(err).Error("dashboard", "index", "Failed to count records")
		c.String(http.StatusInternalServerError, "failed to load records")
		return
	}

	c.HTML(http.StatusOK, "layout", IndexData{
		Records:     records,
		Total:       total,
		LastUpdated: s.now().Format("15:04:05"),
	})
}

func (s *Server) handleList(c *gin.Context) {
	filter, page, pageSize, err := parseListQuery(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error(), nil)
		return
	}

	ctx := c.Request.Context()
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		s.internalError(c, "list", err)
		return
	}

	filter.Limit, filter.Offset = 0, 0
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		s.internalError(c, "list", err)
		return
	}

	if records == nil {
		records = []*storage.LogRecord{}
	}
	writeOK(c, gin.H{
		"items":     records,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

func parseListQuery(c *gin.Context) (storage.ListFilter, int, int, error) {
	var filter storage.ListFilter
	page, pageSize := 1, defaultPageSize

	if v := c.Query("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return filter, 0, 0, errors.New("invalid page")
		}
		page = p
	}
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, 0, 0, errors.New("invalid page_size")
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		pageSize = n
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	if v := strings.TrimSpace(c.Query("level")); v != "" {
		l, found := logging.LookupLevel(v)
		if !found {
			return filter, 0, 0, errors.New("invalid level")
		}
		filter.Level = l.String()
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		st := storage.Status(strings.ToLower(v))
		if !st.Valid() {
			return filter, 0, 0, errors.New("invalid status")
		}
		filter.Status = st
	}
	filter.Queue = strings.TrimSpace(c.Query("queue"))
	filter.ExceptionClass = strings.TrimSpace(c.Query("exception_class"))
	filter.Tag = strings.TrimSpace(c.Query("tag"))

	if v := strings.TrimSpace(c.Query("user_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, 0, 0, errors.New("invalid user_id")
		}
		filter.UserID = &id
	}
	if v := c.Query("since"); v != "" {
		tm, err := parseTime(v)
		if err != nil {
			return filter, 0, 0, errors.New("invalid since")
		}
		filter.CreatedAfter = tm
	}
	if v := c.Query("until"); v != "" {
		tm, err := parseTime(v)
		if err != nil {
			return filter, 0, 0, errors.New("invalid until")
		}
		filter.CreatedBefore = tm
	}
	if v := c.Query("with_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, 0, 0, errors.New("invalid with_deleted")
		}
		filter.WithDeleted = b
	}
	return filter, page, pageSize, nil
}

// parseTime accepts unix seconds or RFC 3339.
func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	return time.Parse(time.RFC3339, value)
}

func recordID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid id", "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleGet(c *gin.Context) {
	id, valid := recordID(c)
	if !valid {
		return
	}

	var (
		rec *storage.LogRecord
		err error
	)
	if c.Query("with_deleted") == "true" {
		rec, err = s.repo.GetWithDeleted(c.Request.Context(), id)
	} else {
		rec, err = s.repo.Get(c.Request.Context(), id)
	}
	if err != nil {
		s.storeError(c, "get", err)
		return
	}
	writeOK(c, rec)
}

func (s *Server) handleClose(c *gin.Context) {
	id, valid := recordID(c)
	if !valid {
		return
	}
	actor, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(ActorHeader)), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, CodeInvalidRequest, "Missing or invalid "+ActorHeader, nil)
		return
	}

	if err := s.repo.MarkClosed(c.Request.Context(), id, actor); err != nil {
		s.storeError(c, "close", err)
		return
	}
	s.log(c).WithFields(logging.Fields{"id": id, "actor": actor}).Info("dashboard", "close", "Record closed")
	s.respondRecord(c, id)
}

func (s *Server) handleOpen(c *gin.Context) {
	id, valid := recordID(c)
	if !valid {
		return
	}
	if err := s.repo.MarkOpen(c.Request.Context(), id); err != nil {
		s.storeError(c, "open", err)
		return
	}
	s.log(c).WithFields(logging.Fields{"id": id}).Info("dashboard", "open", "Record reopened")
	s.respondRecord(c, id)
}

func (s *Server) handleAddTags(c *gin.Context) {
	s.changeTags(c, "tag", s.repo.AddTags)
}

func (s *Server) handleRemoveTags(c *gin.Context) {
	s.changeTags(c, "untag", s.repo.RemoveTags)
}

func (s *Server) changeTags(c *gin.Context, action string, apply func(ctx context.Context, id int64, tags ...string) (storage.Tags, error)) {
	id, valid := recordID(c)
	if !valid {
		return
	}
	var req tagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body", err.Error())
		return
	}

	tags, err := apply(c.Request.Context(), id, req.Tags...)
	if err != nil {
		s.storeError(c, action, err)
		return
	}
	if tags == nil {
		tags = storage.Tags{}
	}
	s.log(c).WithFields(logging.Fields{"id": id, "tags": []string(tags)}).Info("dashboard", action, "Record tags updated")
	writeOK(c, gin.H{"id": id, "tags": tags})
}

func (s *Server) handleDelete(c *gin.Context) {
	id, valid := recordID(c)
	if !valid {
		return
	}
	force := c.Query("force") == "true"

	var err error
	if force {
		err = s.repo.ForceDelete(c.Request.Context(), id)
	} else {
		err = s.repo.Delete(c.Request.Context(), id)
	}
	if err != nil {
		s.storeError(c, "delete", err)
		return
	}
	s.log(c).WithFields(logging.Fields{"id": id, "force": force}).Info("dashboard", "delete", "Record deleted")
	writeOK(c, gin.H{"id": id, "deleted": true})
}

func (s *Server) handleRestore(c *gin.Context) {
	id, valid := recordID(c)
	if !valid {
		return
	}
	if err := s.repo.Restore(c.Request.Context(), id); err != nil {
		s.storeError(c, "restore", err)
		return
	}
	s.log(c).WithFields(logging.Fields{"id": id}).Info("dashboard", "restore", "Record restored")
	s.respondRecord(c, id)
}

func (s *Server) respondRecord(c *gin.Context, id int64) {
	rec, err := s.repo.Get(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "get", err)
		return
	}
	writeOK(c, rec)
}

func (s *Server) storeError(c *gin.Context, action string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(c, http.StatusNotFound, CodeNotFound, "Log record not found", nil)
		return
	}
	s.internalError(c, action, err)
}

func (s *Server) internalError(c *gin.Context, action string, err error) {
	s.log(c).WithError(err).Error("dashboard", action, "Store operation failed")
	_ = c.Error(err)
	writeError(c, http.StatusInternalServerError, CodeInternal, "Store operation failed", err.Error())
}
