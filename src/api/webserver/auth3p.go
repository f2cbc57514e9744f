package webserver

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/mememo/src/challenge"
)

// Auth3p serves the third party side of the challenge handshake.
type Auth3p struct {
	challenges *challenge.Manager
}

func NewAuth3p(m *challenge.Manager) Auth3p {
	return Auth3p{challenges: m}
}

func (a Auth3p) Respond(c *gin.Context) {
	var req struct {
		ChallengeID string `json:"challenge_id" binding:"required,max=64"`
		Outcome     string `json:"outcome" binding:"required,max=16"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	outcome, ok := challenge.ParseOutcome(req.Outcome)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"err": "outcome must be approved or denied"})
		return
	}

	ch, err := a.challenges.Respond(c.Request.Context(), req.ChallengeID, outcome)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"result": "grant_issued", "challenge": ch})
	case errors.Is(err, challenge.ErrChallengeDenied):
		c.JSON(http.StatusOK, gin.H{"result": "denied", "challenge": ch})
	case errors.Is(err, challenge.ErrUnknownChallenge):
		c.JSON(http.StatusNotFound, gin.H{"err": "unknown challenge"})
	case errors.Is(err, challenge.ErrStaleChallenge):
		c.JSON(http.StatusConflict, gin.H{"err": "challenge already resolved", "challenge": ch})
	case errors.Is(err, challenge.ErrChallengeExpired):
		c.JSON(http.StatusGone, gin.H{"err": "challenge expired", "challenge": ch})
	default:
		log.Printf("webserver: respond %s by %s: %v", req.ChallengeID, c.GetString("sub"), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"err": "grant store unavailable, retry later"})
	}
}

func (a Auth3p) Get(c *gin.Context) {
	ch, ok := a.challenges.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"err": "unknown challenge"})
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Pending lists open challenges, optionally for one principal.
func (a Auth3p) Pending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"challenges": a.challenges.Pending(c.Query("principal"))})
}
