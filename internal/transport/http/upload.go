package httptransport

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freemail/backend/internal/middleware"
	"freemail/backend/internal/service"
)

// multipartOverhead 表单边界与字段的额外空间
const multipartOverhead = 1 << 20

// UploadHandler 附件上传处理器
type UploadHandler struct {
	service *service.UploadService
	log     *zap.Logger
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(service *service.UploadService, log *zap.Logger) *UploadHandler {
	return &UploadHandler{service: service, log: log}
}

func (h *UploadHandler) bodyLimit() int64 {
	if h.service == nil {
		return middleware.UploadBodyLimit
	}
	return h.service.MaxBytes() + multipartOverhead
}

// UploadCatbox godoc
// @Summary 上传文件
// @Description 文件名会被清理，超过大小限制返回 413
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "文件"
// @Success 201 {object} service.UploadResult
// @Failure 400 {object} Response
// @Failure 413 {object} Response
// @Router /v1/uploads/catbox [post]
func (h *UploadHandler) UploadCatbox(c *gin.Context) {
	header, content, ok := h.readFile(c)
	if !ok {
		return
	}

	res, err := h.service.Upload(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, res)
}

// UploadAttachment godoc
// @Summary 上传并挂载附件
// @Description 上传文件并作为附件追加到当前租户的邮件上
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "文件"
// @Param messageId formData string true "邮件ID"
// @Success 201 {object} domain.Attachment
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 413 {object} Response
// @Router /v1/attachments [post]
func (h *UploadHandler) UploadAttachment(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	header, content, ok := h.readFile(c)
	if !ok {
		return
	}
	messageID := c.PostForm("messageId")
	if messageID == "" {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	att, err := h.service.UploadAttachment(c.Request.Context(), userID, messageID, header.Filename, header.Header.Get("Content-Type"), content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, att)
}

// readFile 读取 file 字段，失败时已写出响应
func (h *UploadHandler) readFile(c *gin.Context) (*multipart.FileHeader, []byte, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			TooLarge(c, MsgFileTooLarge)
		} else {
			BadRequest(c, MsgFileRequired)
		}
		return nil, nil, false
	}

	limit := h.service.MaxBytes()
	if header.Size > limit {
		TooLarge(c, MsgFileTooLarge)
		return nil, nil, false
	}

	f, err := header.Open()
	if err != nil {
		BadRequest(c, MsgFileRequired)
		return nil, nil, false
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		respondError(c, h.log, err)
		return nil, nil, false
	}
	if int64(len(content)) > limit {
		TooLarge(c, MsgFileTooLarge)
		return nil, nil, false
	}
	return header, content, true
}
