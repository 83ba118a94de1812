package controller

import (
	"errors"
	"exam_capture_backend/internal/service"
	"exam_capture_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type MultiCaptureController struct {
	Multi   *service.MultiSessionService
	Capture *service.CaptureService
	Handoff *service.HandoffService
}

func NewMultiCaptureController(multi *service.MultiSessionService, capture *service.CaptureService, handoff *service.HandoffService) *MultiCaptureController {
	return &MultiCaptureController{
		Multi:   multi,
		Capture: capture,
		Handoff: handoff,
	}
}

type CreateMultiSessionReq struct {
	ExamID string                    `json:"examId" binding:"required"`
	Roster []service.StudentIdentity `json:"roster" binding:"required"`
}

func respondMultiError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrStudentNotInRoster):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrRosterEmpty):
		util.BadRequest(ctx, err.Error())
	default:
		respondCaptureError(ctx, err)
	}
}

// @Summary 创建批量拍照会话
// @Description 整班名册共用一个令牌，每个学生独立拍照上传
// @Tags 批量拍照
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body CreateMultiSessionReq true "试卷与学生名册"
// @Success 201 {object} util.Response
// @Router /api/teacher/multi-sessions [post]
func (c *MultiCaptureController) CreateMultiSession(ctx *gin.Context) {
	var req CreateMultiSessionReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	multi, entries, err := c.Multi.Create(req.ExamID, req.Roster)
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	util.Created(ctx, gin.H{
		"session": multi,
		"roster":  entries,
		"handoff": c.Handoff.MultiShareLink(multi),
	})
}

// @Summary 查看批量会话名册
// @Tags 批量拍照
// @Produce json
// @Security BearerAuth
// @Param id path string true "批量会话ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/multi-sessions/{id} [get]
func (c *MultiCaptureController) RosterStatus(ctx *gin.Context) {
	ready, entries, err := c.Multi.Ready(ctx.Param("id"))
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"ready": ready, "roster": entries})
}

// @Summary 触发批量处理
// @Description 扫一遍名册，并发处理所有已上传未处理的学生，单个失败互不影响
// @Tags 批量拍照
// @Produce json
// @Security BearerAuth
// @Param id path string true "批量会话ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/multi-sessions/{id}/sweep [post]
func (c *MultiCaptureController) Sweep(ctx *gin.Context) {
	result, err := c.Multi.Sweep(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	util.Success(ctx, result)
}

// @Summary 学生查询自己的槽位状态
// @Description 学生端轮询只看自己的槽位，不暴露整个名册
// @Tags 批量拍照
// @Produce json
// @Param token path string true "会话令牌"
// @Param studentId path string true "学生ID"
// @Success 200 {object} util.Response
// @Router /api/capture/multi/{token}/students/{studentId} [get]
func (c *MultiCaptureController) EntryStatus(ctx *gin.Context) {
	multi, err := c.Multi.LookupByToken(ctx.Param("token"))
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	entry, err := c.Multi.EntryFor(multi, ctx.Param("studentId"))
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"status":       entry.Status,
		"imageCount":   len(entry.UploadedImages),
		"errorMessage": entry.ErrorMessage,
	})
}

// @Summary 学生暂存答卷图
// @Tags 批量拍照
// @Accept multipart/form-data
// @Produce json
// @Param token path string true "会话令牌"
// @Param studentId path string true "学生ID"
// @Param images formData file true "答卷图"
// @Success 200 {object} util.Response
// @Router /api/capture/multi/{token}/students/{studentId}/images [post]
func (c *MultiCaptureController) StageImages(ctx *gin.Context) {
	multi, err := c.Multi.LookupByToken(ctx.Param("token"))
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	entry, err := c.Multi.EntryFor(multi, ctx.Param("studentId"))
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	count, err := stageFromForm(ctx, c.Capture, multi.Token, entry.StudentID)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	util.Success(ctx, gin.H{"staged": count, "total": c.Capture.StagedCount(multi.Token, entry.StudentID)})
}

// @Summary 学生提交缓冲的答卷图
// @Description 只翻转该学生自己的槽位，其他人不受影响
// @Tags 批量拍照
// @Produce json
// @Param token path string true "会话令牌"
// @Param studentId path string true "学生ID"
// @Success 200 {object} util.Response
// @Router /api/capture/multi/{token}/students/{studentId}/commit [post]
func (c *MultiCaptureController) CommitImages(ctx *gin.Context) {
	multi, err := c.Multi.LookupByToken(ctx.Param("token"))
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	entry, err := c.Multi.EntryFor(multi, ctx.Param("studentId"))
	if err != nil {
		respondMultiError(ctx, err)
		return
	}

	if err := c.Capture.CommitEntry(ctx.Request.Context(), multi.Token, entry, c.Multi.Store.UpdateEntry); err != nil {
		respondMultiError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"status": entry.Status, "imageCount": len(entry.UploadedImages)})
}
