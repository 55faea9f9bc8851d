package controllers

import (
	"errors"
	"net/http"
	"strings"

	"permit-workflow-api/config"
	"permit-workflow-api/models"
	"permit-workflow-api/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PermitController exposes the permit workflow over HTTP.
type PermitController struct {
	workflow *services.PermitWorkflowService
	stats    *services.ApprovalStatsService
}

func NewPermitController(workflow *services.PermitWorkflowService, stats *services.ApprovalStatsService) *PermitController {
	return &PermitController{workflow: workflow, stats: stats}
}

// permitResponse is the API view of a submission.
type permitResponse struct {
	*models.Submission
	IsNumbered bool `json:"is_numbered"`
}

func newPermitResponse(sub *models.Submission) permitResponse {
	return permitResponse{Submission: sub, IsNumbered: sub.IsNumbered()}
}

// SubmitPermit handles POST /api/v1/permits
func (pc *PermitController) SubmitPermit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req services.SubmitInput
	if !bindJSON(c, &req) {
		return
	}

	sub, err := pc.workflow.Submit(c.Request.Context(), actor, req)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    newPermitResponse(sub),
	})
}

// GetPermit handles GET /api/v1/permits/:id
func (pc *PermitController) GetPermit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	sub, err := pc.workflow.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    newPermitResponse(sub),
	})
}

// GetPermitHistory handles GET /api/v1/permits/:id/history
func (pc *PermitController) GetPermitHistory(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	rows, err := pc.workflow.History(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rows,
		"total":   len(rows),
	})
}

// ReviewPermit handles POST /api/v1/permits/:id/review
func (pc *PermitController) ReviewPermit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req services.ReviewInput
	if !bindJSON(c, &req) {
		return
	}

	sub, err := pc.workflow.Review(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "review recorded",
		"data":    newPermitResponse(sub),
	})
}

// ApprovePermit handles POST /api/v1/permits/:id/approve
func (pc *PermitController) ApprovePermit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req services.ApproveInput
	if !bindJSON(c, &req) {
		return
	}
	req.Decision = models.ApprovalStatus(strings.ToUpper(strings.TrimSpace(string(req.Decision))))

	sub, err := pc.workflow.Approve(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "decision recorded",
		"data":    newPermitResponse(sub),
	})
}

// ResubmitPermit handles POST /api/v1/permits/:id/resubmit
func (pc *PermitController) ResubmitPermit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	sub, err := pc.workflow.Resubmit(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "submission sent back to review",
		"data":    newPermitResponse(sub),
	})
}

// GetApprovalTotals handles GET /api/v1/permits/stats/approval-totals
func (pc *PermitController) GetApprovalTotals(c *gin.Context) {
	totals, err := pc.stats.Totals(c.Request.Context())
	if err != nil {
		config.Log.WithError(err).Error("failed to load approval totals")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to load approval totals",
			"code":    services.KindUnexpected,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    totals,
	})
}

func actorFromContext(c *gin.Context) (services.Actor, bool) {
	userID, okID := c.Get("userID")
	roleID, okRole := c.Get("roleID")
	id, _ := userID.(int)
	role, _ := roleID.(int)
	if !okID || !okRole || id == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return services.Actor{}, false
	}
	return services.Actor{ID: id, Name: c.GetString("userName"), Role: role}, true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
			"code":    services.KindValidation,
		})
		return false
	}
	return true
}

func workflowStatus(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindInvalidTransition:
		return http.StatusConflict
	case services.KindAllocationFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWorkflowError maps a workflow failure to its HTTP status. Unexpected errors are logged
// and their detail is withheld from the client.
func respondWorkflowError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status := workflowStatus(kind)

	reason := "internal server error"
	var we *services.WorkflowError
	if errors.As(err, &we) && kind != services.KindUnexpected {
		reason = we.Reason
	}

	fields := logrus.Fields{
		"path":   c.FullPath(),
		"id":     c.Param("id"),
		"kind":   kind,
		"status": status,
	}
	if status >= http.StatusInternalServerError {
		config.Log.WithFields(fields).WithError(err).Error("permit workflow request failed")
	} else {
		config.Log.WithFields(fields).Debug(reason)
	}

	body := gin.H{
		"success": false,
		"error":   reason,
		"code":    kind,
	}
	if kind == services.KindAllocationFailed {
		body["retryable"] = true
		c.Header("Retry-After", "1")
	}
	c.JSON(status, body)
}
