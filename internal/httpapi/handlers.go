package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadcheck/leadcheck/internal/handoff"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/types"
)

const maxListLimit = 500

type claimBody struct {
	RetentionType string `json:"retention_type"`
	Notes         string `json:"notes"`
}

type verifiedBody struct {
	Verified *bool `json:"verified"`
}

type valueBody struct {
	Value *string `json:"value"`
}

// listSessions serves the dashboard. Query: status (comma list), label,
// agent, submission, limit, include_completed.
func (s *Server) listSessions(c *gin.Context) {
	var filter types.SessionFilter
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := types.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if raw := c.Query("label"); raw != "" {
		l, err := types.ParseProgressLabel(raw)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		filter.MinLabel = l
	}
	filter.AgentID = c.Query("agent")
	filter.SubmissionID = c.Query("submission")
	filter.IncludeCompleted = c.Query("include_completed") == "true"
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	filter.Limit = limit

	sessions, err := s.orch.ListSessions(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) getSession(c *gin.Context) {
	out, err := s.orch.GetSession(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getSubmissionSession(c *gin.Context) {
	out, err := s.orch.GetSessionBySubmission(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listEvents(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "since must be RFC3339")
			return
		}
		since = t
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	events, err := s.orch.ListEvents(c.Request.Context(), c.Param("id"), since, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) claimSubmission(c *gin.Context) {
	s.claim(c, types.ClaimRequest{SubmissionID: c.Param("id")})
}

func (s *Server) claimSession(c *gin.Context) {
	s.claim(c, types.ClaimRequest{SessionID: c.Param("id")})
}

func (s *Server) claim(c *gin.Context, req types.ClaimRequest) {
	var body claimBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
	}
	actor := actorFrom(c)
	req.AgentID = actor.ID
	req.Role = actor.Role
	req.RetentionType = body.RetentionType
	req.Notes = body.Notes

	out, err := s.orch.ClaimSession(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// sessionAction serves POST /sessions/:id/{claim,drop,finish,transfer,defer}.
func (s *Server) sessionAction(c *gin.Context) {
	actor := actorFrom(c)
	id := c.Param("id")
	ctx := c.Request.Context()

	var (
		out *handoff.Outcome
		err error
	)
	switch lifecycle.Action(c.Param("action")) {
	case lifecycle.ActionClaim:
		s.claimSession(c)
		return
	case lifecycle.ActionDrop:
		out, err = s.orch.ReportDropped(ctx, actor, id)
	case lifecycle.ActionFinish:
		out, err = s.orch.FinishOwnCall(ctx, actor, id)
	case lifecycle.ActionTransfer:
		out, err = s.orch.TransferToLicensed(ctx, actor, id)
	case lifecycle.ActionDefer:
		out, err = s.orch.DeferToOtherLicensed(ctx, actor, id)
	default:
		abortJSON(c, http.StatusNotFound, "not_found", "unknown action "+strconv.Quote(c.Param("action")))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) setVerified(c *gin.Context) {
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	var body verifiedBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Verified == nil {
		badRequest(c, `body must be {"verified": bool}`)
		return
	}
	out, err := s.orch.RecordFieldVerification(c.Request.Context(), actorFrom(c), itemID, *body.Verified)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) setValue(c *gin.Context) {
	itemID, ok := parseItemID(c)
	if !ok {
		return
	}
	var body valueBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Value == nil {
		badRequest(c, `body must be {"value": string}`)
		return
	}
	out, err := s.orch.UpdateFieldValue(c.Request.Context(), actorFrom(c), itemID, *body.Value)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listAgents(c *gin.Context) {
	var role types.Role
	if raw := c.Query("role"); raw != "" {
		r, err := types.ParseRole(raw)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		role = r
	}
	agents := s.orch.Agents(role)
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// closeSubmission is the call-result intake hook.
func (s *Server) closeSubmission(c *gin.Context) {
	sub := c.Param("id")
	v, _ := c.Get(ctxIntake)
	claims, _ := v.(*IntakeClaims)
	if claims == nil || !claims.Allows(sub) {
		abortJSON(c, http.StatusForbidden, "forbidden", "token does not cover submission "+sub)
		return
	}
	actorID := claims.Source
	if actorID == "" {
		actorID = handoff.IntakeActor
	}
	out, err := s.orch.CloseOnSubmission(c.Request.Context(), sub, actorID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

func parseItemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "item id must be a positive integer")
		return 0, false
	}
	return id, true
}
