package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikeshare-backend/ticket"
)

func (a *API) pointsHandler(c *gin.Context) {
	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	balance, err := a.Points.Balance(c, m.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (a *API) pointsHistoryHandler(c *gin.Context) {
	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	entries, err := a.Points.History(c, m.ID, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) ticketPlansHandler(c *gin.Context) {
	c.JSON(http.StatusOK, ticket.Plans())
}

func (a *API) ticketsHandler(c *gin.Context) {
	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	tickets, err := a.Tickets.List(c, m.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	now := a.Clock.Now()
	valid := false
	for _, t := range tickets {
		valid = valid || t.ValidAt(now)
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid, "tickets": tickets})
}

type purchaseRequest struct {
	Type ticket.Type `json:"type" binding:"required"`
}

func (a *API) purchaseTicketHandler(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	t, err := a.Tickets.Purchase(c, m.ID, req.Type)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}
