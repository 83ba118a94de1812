package controller

import (
	"errors"
	"exam_capture_backend/internal/service"
	"exam_capture_backend/internal/util"
	"io"
	"mime/multipart"

	"github.com/gin-gonic/gin"
)

type CaptureController struct {
	Sessions *service.SessionService
	Capture  *service.CaptureService
	Handoff  *service.HandoffService
	Pipeline *service.PipelineService
}

func NewCaptureController(sessions *service.SessionService, capture *service.CaptureService, handoff *service.HandoffService, pipeline *service.PipelineService) *CaptureController {
	return &CaptureController{
		Sessions: sessions,
		Capture:  capture,
		Handoff:  handoff,
		Pipeline: pipeline,
	}
}

type CreateSessionReq struct {
	ExamID   string                  `json:"examId" binding:"required"`
	Identity service.StudentIdentity `json:"identity"`
}

func respondCaptureError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrSessionNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrSessionExpired):
		util.Gone(ctx, err.Error())
	case errors.Is(err, util.ErrInvalidTransition):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, util.ErrIdentityRequired), errors.Is(err, util.ErrNoImages):
		util.BadRequest(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// @Summary 创建拍照上传会话
// @Description 生成一次性令牌和手机端分享链接，并启动状态监视
// @Tags 拍照上传
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body CreateSessionReq true "试卷与学生身份"
// @Success 201 {object} util.Response
// @Router /api/capture/sessions [post]
func (c *CaptureController) CreateSession(ctx *gin.Context) {
	var req CreateSessionReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	session, err := c.Sessions.Create(req.ExamID, req.Identity)
	if err != nil {
		respondCaptureError(ctx, err)
		return
	}

	c.Pipeline.StartWatch(session.ID)

	util.Created(ctx, gin.H{
		"session": session,
		"handoff": c.Handoff.ShareLink(session),
	})
}

// @Summary 查询会话状态
// @Description 轮询端读取，只读不改
// @Tags 拍照上传
// @Produce json
// @Param token path string true "会话令牌"
// @Success 200 {object} util.Response
// @Router /api/capture/sessions/{token} [get]
func (c *CaptureController) SessionStatus(ctx *gin.Context) {
	session, err := c.Sessions.LookupByToken(ctx.Param("token"))
	if err != nil {
		respondCaptureError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"status":       session.Status,
		"imageCount":   len(session.UploadedImages),
		"errorMessage": session.ErrorMessage,
		"expiresAt":    session.ExpiresAt,
	})
}

// @Summary 暂存答卷图
// @Description 手机端拍一张传一张，只进缓冲不碰会话
// @Tags 拍照上传
// @Accept multipart/form-data
// @Produce json
// @Param token path string true "会话令牌"
// @Param images formData file true "答卷图"
// @Success 200 {object} util.Response
// @Router /api/capture/sessions/{token}/images [post]
func (c *CaptureController) StageImages(ctx *gin.Context) {
	session, err := c.Sessions.LookupByToken(ctx.Param("token"))
	if err != nil {
		respondCaptureError(ctx, err)
		return
	}

	count, err := c.stageFiles(ctx, session.Token, "")
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	util.Success(ctx, gin.H{"staged": count, "total": c.Capture.StagedCount(session.Token, "")})
}

// @Summary 提交缓冲的答卷图
// @Description 全部上传成功才把会话迁到 uploaded，任何一张失败整体放弃
// @Tags 拍照上传
// @Produce json
// @Param token path string true "会话令牌"
// @Success 200 {object} util.Response
// @Router /api/capture/sessions/{token}/commit [post]
func (c *CaptureController) CommitImages(ctx *gin.Context) {
	session, err := c.Sessions.LookupByToken(ctx.Param("token"))
	if err != nil {
		respondCaptureError(ctx, err)
		return
	}

	if err := c.Capture.Commit(ctx.Request.Context(), session); err != nil {
		respondCaptureError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"status": session.Status, "imageCount": len(session.UploadedImages)})
}

// @Summary 直传答卷图
// @Description 跳过暂存的文件选择路径：一次请求完成暂存加提交
// @Tags 拍照上传
// @Accept multipart/form-data
// @Produce json
// @Param token path string true "会话令牌"
// @Param images formData file true "答卷图"
// @Success 200 {object} util.Response
// @Router /api/capture/sessions/{token}/upload [post]
func (c *CaptureController) DirectUpload(ctx *gin.Context) {
	session, err := c.Sessions.LookupByToken(ctx.Param("token"))
	if err != nil {
		respondCaptureError(ctx, err)
		return
	}

	if _, err := c.stageFiles(ctx, session.Token, ""); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.Capture.Commit(ctx.Request.Context(), session); err != nil {
		respondCaptureError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"status": session.Status, "imageCount": len(session.UploadedImages)})
}

// @Summary 取消会话
// @Tags 拍照上传
// @Produce json
// @Param token path string true "会话令牌"
// @Success 200 {object} util.Response
// @Router /api/capture/sessions/{token}/cancel [post]
func (c *CaptureController) CancelSession(ctx *gin.Context) {
	session, err := c.Sessions.LookupByToken(ctx.Param("token"))
	if err != nil {
		respondCaptureError(ctx, err)
		return
	}

	if err := c.Sessions.Cancel(session); err != nil {
		respondCaptureError(ctx, err)
		return
	}

	c.Pipeline.StopWatch(session.ID)
	c.Capture.Discard(session.Token, "")

	util.Success(ctx, gin.H{"status": session.Status})
}

func (c *CaptureController) stageFiles(ctx *gin.Context, token, studentID string) (int, error) {
	return stageFromForm(ctx, c.Capture, token, studentID)
}

// stageFromForm 把 multipart 表单里的图片逐张送进暂存缓冲
func stageFromForm(ctx *gin.Context, capture *service.CaptureService, token, studentID string) (int, error) {
	form, err := ctx.MultipartForm()
	if err != nil {
		return 0, err
	}

	files := form.File["images"]
	if len(files) == 0 {
		return 0, util.ErrNoImages
	}

	for _, file := range files {
		data, err := readUpload(file)
		if err != nil {
			return 0, err
		}
		if err := capture.Stage(token, studentID, file.Filename, data); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
