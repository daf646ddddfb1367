package httptransport

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/service"
)

type keyListResponse struct {
	Items []domain.AccessKey `json:"items"`
	Count int                `json:"count"`
}

// listKeys godoc
// @Summary 访问密钥列表
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} keyListResponse
// @Router /api/admin/keys [get]
func (h *Handler) listKeys(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if keys == nil {
		keys = []domain.AccessKey{}
	}
	Success(c, keyListResponse{Items: keys, Count: len(keys)})
}

type createKeyRequest struct {
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
	MaxUses     int    `json:"maxUses"`
}

// createKey godoc
// @Summary 创建访问密钥
// @Description 代码格式为 prefix-随机后缀
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body createKeyRequest true "密钥参数"
// @Success 201 {object} domain.AccessKey
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /api/admin/keys [post]
func (h *Handler) createKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	key, err := h.keys.Create(c.Request.Context(), service.CreateKeyInput{
		Prefix:      req.Prefix,
		Description: req.Description,
		MaxUses:     req.MaxUses,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	Created(c, key)
}

type updateKeyRequest struct {
	Description string `json:"description"`
	MaxUses     int    `json:"maxUses"`
}

// updateKey godoc
// @Summary 更新访问密钥
// @Description 最大使用次数不能小于当前使用次数
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "密钥ID"
// @Param request body updateKeyRequest true "描述与上限"
// @Success 200 {object} domain.AccessKey
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/admin/keys/{id} [put]
func (h *Handler) updateKey(c *gin.Context) {
	var req updateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	key, err := h.keys.Update(c.Request.Context(), service.UpdateKeyInput{
		ID:          c.Param("id"),
		Description: req.Description,
		MaxUses:     req.MaxUses,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	Success(c, key)
}

type toggleKeyRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// toggleKey godoc
// @Summary 启用或停用访问密钥
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "密钥ID"
// @Param request body toggleKeyRequest true "目标状态"
// @Success 200 {object} domain.AccessKey
// @Failure 404 {object} Response
// @Router /api/admin/keys/{id}/toggle [post]
func (h *Handler) toggleKey(c *gin.Context) {
	var req toggleKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "isActive is required")
		return
	}

	key, err := h.keys.SetActive(c.Request.Context(), c.Param("id"), *req.IsActive)
	if err != nil {
		h.respondError(c, err)
		return
	}
	Success(c, key)
}

// deleteKey godoc
// @Summary 删除访问密钥及其使用记录
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "密钥ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/admin/keys/{id} [delete]
func (h *Handler) deleteKey(c *gin.Context) {
	if err := h.keys.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	SuccessWithMsg(c, "access key deleted", nil)
}

type barcodeListResponse struct {
	Items []domain.BarcodeRecord `json:"items"`
	Stats domain.PoolStats       `json:"stats"`
}

// listBarcodes godoc
// @Summary 条码列表与统计
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} barcodeListResponse
// @Router /api/admin/barcodes [get]
func (h *Handler) listBarcodes(c *gin.Context) {
	ctx := c.Request.Context()
	items, err := h.pool.List(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	stats, err := h.pool.Stats(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if items == nil {
		items = []domain.BarcodeRecord{}
	}
	Success(c, barcodeListResponse{Items: items, Stats: stats})
}

// barcodeStats godoc
// @Summary 条码池统计
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} domain.PoolStats
// @Router /api/admin/barcodes/stats [get]
func (h *Handler) barcodeStats(c *gin.Context) {
	stats, err := h.pool.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	Success(c, stats)
}

type importBarcodesRequest struct {
	Text string `json:"text"`
}

// importBarcodes godoc
// @Summary 批量导入条码
// @Description 请求体为纯文本（每行一个条码）或 {"text": "..."}
// @Tags Admin
// @Security BearerAuth
// @Accept plain
// @Accept json
// @Produce json
// @Success 200 {object} service.IngestReport
// @Failure 400 {object} Response "没有可用行，data 中附带逐行原因"
// @Failure 413 {object} Response
// @Router /api/admin/barcodes/import [post]
func (h *Handler) importBarcodes(c *gin.Context) {
	text, err := readImportText(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(c, http.StatusRequestEntityTooLarge, ErrorCodeValidation, "barcode import is too large", nil)
			return
		}
		BadRequest(c, MsgInvalidRequest)
		return
	}

	report, err := h.pool.Ingest(c.Request.Context(), text)
	if err != nil {
		if report != nil {
			h.respondErrorWithData(c, err, report)
			return
		}
		h.respondError(c, err)
		return
	}
	Success(c, report)
}

func readImportText(c *gin.Context) (string, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req importBarcodesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", err
		}
		return req.Text, nil
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// deleteBarcodes godoc
// @Summary 清空条码池
// @Description 删除全部条码（包括已使用的），不可恢复
// @Tags Admin
// @Security BearerAuth
// @Success 200 {object} Response
// @Router /api/admin/barcodes [delete]
func (h *Handler) deleteBarcodes(c *gin.Context) {
	n, err := h.pool.DeleteAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	SuccessWithMsg(c, "barcode pool cleared", gin.H{"deleted": n})
}

type activityResponse struct {
	Items []domain.UsageLogView `json:"items"`
	Count int                   `json:"count"`
}

// listActivity godoc
// @Summary 最近使用记录
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param limit query int false "条数，默认 100"
// @Param all query bool false "返回全部"
// @Success 200 {object} activityResponse
// @Router /api/admin/activity [get]
func (h *Handler) listActivity(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		items []domain.UsageLogView
		err   error
	)
	if all, _ := strconv.ParseBool(c.Query("all")); all {
		items, err = h.activity.All(ctx)
	} else {
		limit := service.DefaultRecentActivity
		if raw := c.Query("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n < 1 {
				BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = n
		}
		items, err = h.activity.Recent(ctx, limit)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	if items == nil {
		items = []domain.UsageLogView{}
	}
	Success(c, activityResponse{Items: items, Count: len(items)})
}
