package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/bikeshare-backend/rental"
)

type rentRequest struct {
	BikeID    uuid.UUID `json:"bikeId" binding:"required"`
	StationID uuid.UUID `json:"stationId" binding:"required"`
}

type rentalResponse struct {
	ID             uuid.UUID  `json:"id"`
	BikeID         uuid.UUID  `json:"bikeId"`
	BikeLabel      string     `json:"bikeLabel,omitempty"`
	StartStationID uuid.UUID  `json:"startStationId"`
	EndStationID   *uuid.UUID `json:"endStationId,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	DistanceKm     *float64   `json:"distanceKm,omitempty"`
	Minutes        int        `json:"minutes,omitempty"`
}

func toRentalResponse(e rental.Episode) rentalResponse {
	return rentalResponse{
		ID:             e.ID,
		BikeID:         e.BikeID,
		BikeLabel:      e.BikeLabel,
		StartStationID: e.StartStationID,
		EndStationID:   e.EndStationID,
		StartedAt:      e.StartTime,
		EndedAt:        e.EndTime,
		DistanceKm:     e.DistanceKm,
		Minutes:        e.Minutes(),
	}
}

func (a *API) rentHandler(c *gin.Context) {
	var req rentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	receipt, err := a.Engine.Rent(c.Request.Context(), m.ID, req.BikeID, req.StationID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"rental":           toRentalResponse(receipt.Episode),
		"stationAvailable": receipt.StationAvailable,
	})
}

type returnRequest struct {
	StationID uuid.UUID `json:"stationId" binding:"required"`
}

func (a *API) returnHandler(c *gin.Context) {
	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	receipt, err := a.Engine.Return(c.Request.Context(), m.ID, req.StationID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rental":           toRentalResponse(receipt.Episode),
		"distanceKm":       receipt.DistanceKm,
		"minutes":          receipt.Minutes,
		"stationAvailable": receipt.StationAvailable,
	})
}

type rentalState struct {
	InProgress bool            `json:"inProgress"`
	Rental     *rentalResponse `json:"rental,omitempty"`
}

func (a *API) currentRentalHandler(c *gin.Context) {
	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	ep, err := a.Engine.GetOpenRental(c.Request.Context(), m.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if ep == nil {
		c.JSON(http.StatusOK, rentalState{InProgress: false})
		return
	}

	r := toRentalResponse(*ep)
	c.JSON(http.StatusOK, rentalState{InProgress: true, Rental: &r})
}

func (a *API) rentalHistoryHandler(c *gin.Context) {
	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	episodes, err := a.Engine.GetHistory(c.Request.Context(), m.ID, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]rentalResponse, 0, len(episodes))
	for _, e := range episodes {
		resp = append(resp, toRentalResponse(e))
	}
	c.JSON(http.StatusOK, resp)
}

// queryLimit reads ?limit=, returning 0 (the default) when absent or invalid.
func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}
