package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/service"
)

type keyCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

type publicKeyResponse struct {
	Code          string `json:"code"`
	Description   string `json:"description"`
	RemainingUses int    `json:"remainingUses"`
	IsActive      bool   `json:"isActive"`
}

type validateKeyResponse struct {
	Valid  bool               `json:"valid"`
	Reason string             `json:"reason,omitempty"`
	Key    *publicKeyResponse `json:"key,omitempty"`
}

func toPublicKey(key *domain.AccessKey) *publicKeyResponse {
	return &publicKeyResponse{
		Code:          key.Code,
		Description:   key.Description,
		RemainingUses: key.RemainingUses(),
		IsActive:      key.IsActive,
	}
}

// validateKey godoc
// @Summary 校验访问密钥
// @Tags Public
// @Accept json
// @Produce json
// @Param request body keyCodeRequest true "密钥代码"
// @Success 200 {object} validateKeyResponse
// @Failure 403 {object} Response "密钥已用尽或已停用"
// @Failure 404 {object} Response
// @Failure 429 {object} Response
// @Router /api/keys/validate [post]
func (h *Handler) validateKey(c *gin.Context) {
	var req keyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "access key code is required")
		return
	}

	key, err := h.labels.ValidateKey(c.Request.Context(), req.Code)
	if err != nil {
		if key != nil {
			// 密钥存在但不可用，返回原因供前端区分提示
			reason := "exhausted"
			if errors.Is(err, service.ErrKeyInactive) {
				reason = "inactive"
			}
			h.respondErrorWithData(c, err, validateKeyResponse{Valid: false, Reason: reason, Key: toPublicKey(key)})
			return
		}
		h.respondError(c, err)
		return
	}

	Success(c, validateKeyResponse{Valid: true, Key: toPublicKey(key)})
}

type generateLabelRequest struct {
	Code  string           `json:"code" binding:"required"`
	Label domain.LabelData `json:"label"`
}

type generateLabelResponse struct {
	Key       *publicKeyResponse `json:"key"`
	EntryID   string             `json:"entryId,omitempty"`
	LabelData domain.LabelData   `json:"labelData"`
}

// generateLabel godoc
// @Summary 生成标签（消耗一次密钥使用）
// @Description 使用次数立即提交，随后通过 /api/labels/barcode 为预览分配条码
// @Tags Public
// @Accept json
// @Produce json
// @Param request body generateLabelRequest true "密钥和标签数据"
// @Success 201 {object} generateLabelResponse
// @Failure 403 {object} Response "密钥已用尽或已停用"
// @Failure 404 {object} Response
// @Router /api/labels [post]
func (h *Handler) generateLabel(c *gin.Context) {
	var req generateLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.labels.GenerateLabel(c.Request.Context(), service.GenerateLabelInput{
		Code:      req.Code,
		LabelData: req.Label,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := generateLabelResponse{
		Key:       toPublicKey(result.Key),
		LabelData: result.LabelData,
	}
	if result.Entry != nil {
		resp.EntryID = result.Entry.ID
	}
	Created(c, resp)
}

type barcodeResponse struct {
	ID          string     `json:"id"`
	GS1Value    string     `json:"gs1Value"`
	LinearValue string     `json:"linearValue"`
	UsedAt      *time.Time `json:"usedAt,omitempty"`
}

// assignBarcode godoc
// @Summary 为标签预览分配条码
// @Tags Public
// @Accept json
// @Produce json
// @Param request body keyCodeRequest true "密钥代码"
// @Success 200 {object} barcodeResponse
// @Failure 404 {object} Response
// @Failure 409 {object} Response "条码池为空（POOL_EXHAUSTED）或没有待分配的标签（NO_PENDING_LABEL）"
// @Failure 429 {object} Response
// @Router /api/labels/barcode [post]
func (h *Handler) assignBarcode(c *gin.Context) {
	var req keyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "access key code is required")
		return
	}

	rec, err := h.labels.AssignBarcode(c.Request.Context(), req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	Success(c, barcodeResponse{
		ID:          rec.ID,
		GS1Value:    rec.GS1Value,
		LinearValue: rec.LinearValue,
		UsedAt:      rec.UsedAt,
	})
}

// poolStatus godoc
// @Summary 条码池状态
// @Tags Public
// @Produce json
// @Success 200 {object} service.PoolStatus
// @Router /api/barcodes/status [get]
func (h *Handler) poolStatus(c *gin.Context) {
	status, err := h.pool.Status(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	Success(c, status)
}
