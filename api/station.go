package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/station"
)

type stationResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Lat            *float64  `json:"latitude,omitempty"`
	Lng            *float64  `json:"longitude,omitempty"`
	AvailableCount int       `json:"availableCount"`
}

func toStationResponse(s station.Station) stationResponse {
	sr := stationResponse{
		ID:             s.ID,
		Name:           s.Name,
		Address:        s.Address,
		AvailableCount: s.AvailableCount,
	}
	if p := s.Point(); p != nil {
		sr.Lat, sr.Lng = &p.Lat, &p.Lng
	}
	return sr
}

func (a *API) stationsHandler(c *gin.Context) {
	stations, err := a.Stations.GetStations(c)
	if err != nil {
		writeError(c, err)
		return
	}

	stationResponses := make([]stationResponse, 0, len(stations))
	for _, s := range stations {
		stationResponses = append(stationResponses, toStationResponse(s))
	}
	c.JSON(http.StatusOK, stationResponses)
}

type stationDetailResponse struct {
	stationResponse
	Bikes []bikeResponse `json:"bikes"`
}

func (a *API) stationHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, station.ErrNotFound)
		return
	}

	s, err := a.Stations.GetStation(c, id)
	if err != nil {
		writeError(c, err)
		return
	}

	bikes, err := a.Bikes.GetBikesWithStations(c, &s.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := stationDetailResponse{stationResponse: toStationResponse(s), Bikes: make([]bikeResponse, 0, len(bikes))}
	for _, b := range bikes {
		br := toBikeResponse(b.Bike)
		br.StationName = b.StationName
		resp.Bikes = append(resp.Bikes, br)
	}
	c.JSON(http.StatusOK, resp)
}

type bikeResponse struct {
	ID          uuid.UUID      `json:"id"`
	Label       string         `json:"label"`
	StationID   *uuid.UUID     `json:"stationId,omitempty"`
	StationName string         `json:"stationName,omitempty"`
	LockState   bike.LockState `json:"lockState"`
	Condition   bike.Condition `json:"condition"`
	Available   bool           `json:"available"`
}

func toBikeResponse(b bike.Bike) bikeResponse {
	br := bikeResponse{
		ID:        b.ID,
		Label:     b.Label,
		StationID: b.StationID,
		LockState: b.LockState,
		Condition: b.Condition,
	}
	if b.StationID != nil {
		br.Available = b.Rentable(*b.StationID)
	}
	return br
}

// bikeHandler looks a bike up by id or by its printed label.
func (a *API) bikeHandler(c *gin.Context) {
	var (
		b   bike.Bike
		err error
	)
	if id, perr := uuid.Parse(c.Param("id")); perr == nil {
		b, err = a.Bikes.GetBikeByID(c, id)
	} else {
		b, err = a.Bikes.GetBike(c, c.Param("id"))
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toBikeResponse(b))
}
