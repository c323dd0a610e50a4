package service

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/filevault/internal/file/biz"
	apperrors "github.com/lk2023060901/filevault/internal/pkg/errors"
	"github.com/lk2023060901/filevault/internal/pkg/response"
	"github.com/lk2023060901/filevault/internal/pkg/workerpool"
)

// FileService exposes the file store over HTTP.
type FileService struct {
	uc     *biz.FileUseCase
	pool   *workerpool.Pool
	logger *zap.Logger
}

// NewFileService creates the service. pool may be nil; batch uploads then
// run sequentially.
func NewFileService(uc *biz.FileUseCase, pool *workerpool.Pool, logger *zap.Logger) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileService{
		uc:     uc,
		pool:   pool,
		logger: logger,
	}
}

// RegisterRoutes mounts the file endpoints on the router group.
func (s *FileService) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/files", s.Upload)
	r.POST("/files/batch", s.BatchUpload)
	r.GET("/files", s.List)
	r.GET("/files/:id", s.Get)
	r.GET("/files/:id/download", s.Download)
	r.DELETE("/files/:id", s.Delete)
	r.GET("/stats", s.Stats)
}

// FileResponse 文件记录响应
type FileResponse struct {
	ID          string `json:"id"`
	ContentHash string `json:"content_hash"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	UploadedAt  string `json:"uploaded_at"`
	IsDuplicate *bool  `json:"is_duplicate,omitempty"`
}

func toFileResponse(f *biz.File) *FileResponse {
	return &FileResponse{
		ID:          f.ID,
		ContentHash: f.ContentHash,
		Filename:    f.Filename,
		MimeType:    f.MimeType,
		SizeBytes:   f.SizeBytes,
		UploadedAt:  f.UploadedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Upload handles a single multipart upload under the "file" field.
func (s *FileService) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "multipart field 'file' is required")
		return
	}

	file, dup, err := s.uploadOne(c.Request.Context(), fh)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	resp := toFileResponse(file)
	resp.IsDuplicate = &dup
	response.Created(c, resp)
}

// uploadOne 只依赖 context.Context，批量上传时可以安全地在 pool
// goroutine 里调用（gin.Context 不允许跨 goroutine 使用）。
func (s *FileService) uploadOne(ctx context.Context, fh *multipart.FileHeader) (*biz.File, bool, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, false, biz.ErrEmptyContent
	}
	defer src.Close()

	file, dup, err := s.uc.Upload(ctx, src, fh.Size, fh.Filename, fh.Header.Get("Content-Type"))
	if err != nil {
		return nil, false, err
	}

	uploadsTotal.WithLabelValues(strconv.FormatBool(dup)).Inc()
	return file, dup, nil
}

// BatchUploadResult 批量上传中单个文件的结果
type BatchUploadResult struct {
	Filename string        `json:"filename"`
	File     *FileResponse `json:"file,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// BatchUpload handles multiple files under the "files" field, fanning the
// work out over the worker pool.
func (s *FileService) BatchUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "multipart form required")
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "multipart field 'files' is required")
		return
	}

	results := make([]BatchUploadResult, len(headers))

	// 提交给 pool 之前先取出请求的 context，goroutine 里不碰 gin.Context
	ctx := c.Request.Context()

	if s.pool != nil {
		tasks := make([]func() workerpool.TaskResult, len(headers))
		for i, fh := range headers {
			fh := fh
			tasks[i] = func() workerpool.TaskResult {
				file, dup, err := s.uploadOne(ctx, fh)
				if err != nil {
					return workerpool.TaskResult{Error: err}
				}
				resp := toFileResponse(file)
				resp.IsDuplicate = &dup
				return workerpool.TaskResult{Data: resp}
			}
		}

		taskResults, err := s.pool.SubmitWait(ctx, tasks)
		if err != nil {
			response.HandleError(c, apperrors.Wrap(err, apperrors.ErrInternalServer))
			return
		}
		for i, tr := range taskResults {
			results[i].Filename = headers[i].Filename
			if tr.Error != nil {
				results[i].Error = tr.Error.Error()
			} else {
				results[i].File = tr.Data.(*FileResponse)
			}
		}
	} else {
		for i, fh := range headers {
			results[i].Filename = fh.Filename
			file, dup, err := s.uploadOne(ctx, fh)
			if err != nil {
				results[i].Error = err.Error()
				continue
			}
			resp := toFileResponse(file)
			resp.IsDuplicate = &dup
			results[i].File = resp
		}
	}

	response.Success(c, gin.H{"results": results})
}

// Get returns a single file record.
func (s *FileService) Get(c *gin.Context) {
	file, err := s.uc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toFileResponse(file))
}

// Download streams the file's content with its original name and type.
func (s *FileService) Download(c *gin.Context) {
	file, rc, err := s.uc.OpenContent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	defer rc.Close()

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header("Content-Disposition",
		fmt.Sprintf(`attachment; filename*=UTF-8''%s`, url.PathEscape(file.Filename)))
	c.DataFromReader(200, file.SizeBytes, mimeType, rc, nil)
}

// Delete removes a file record and possibly its physical content.
func (s *FileService) Delete(c *gin.Context) {
	physical, err := s.uc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}

	deletesTotal.WithLabelValues(strconv.FormatBool(physical)).Inc()
	response.Success(c, gin.H{"physical_deleted": physical})
}

// ListResponse 分页列表响应
type ListResponse struct {
	Files    []*FileResponse `json:"files"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// List returns a page of file records, newest first.
func (s *FileService) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	files, total, err := s.uc.List(c.Request.Context(), page, pageSize)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	resp := &ListResponse{
		Files:    make([]*FileResponse, len(files)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for i, f := range files {
		resp.Files[i] = toFileResponse(f)
	}
	response.Success(c, resp)
}

// Stats returns the dedup metrics snapshot and refreshes the Prometheus
// gauges as a side effect.
func (s *FileService) Stats(c *gin.Context) {
	m, err := s.uc.Metrics(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}

	publishMetrics(m)
	response.Success(c, m)
}
