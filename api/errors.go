package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikeshare-backend/internal/database"
	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/ledger"
	"github.com/semanticallynull/bikeshare-backend/payment"
	"github.com/semanticallynull/bikeshare-backend/ranking"
	"github.com/semanticallynull/bikeshare-backend/rental"
	"github.com/semanticallynull/bikeshare-backend/ticket"
)

type errorResponse struct {
	status  int
	code    string
	message string
}

var errorResponses = []struct {
	err  error
	resp errorResponse
}{
	{rental.ErrNoValidTicket, errorResponse{http.StatusForbidden, "NO_VALID_TICKET", "A valid ticket is required to rent"}},
	{rental.ErrAlreadyRenting, errorResponse{http.StatusConflict, "ALREADY_RENTING", "Member already has an active rental"}},
	{rental.ErrBikeUnavailable, errorResponse{http.StatusConflict, "BIKE_UNAVAILABLE", "Bike is not available at this station"}},
	{rental.ErrStationInventoryMismatch, errorResponse{http.StatusConflict, "STATION_INVENTORY_MISMATCH", "Station inventory is inconsistent"}},
	{rental.ErrBikeStateMismatch, errorResponse{http.StatusConflict, "BIKE_STATE_MISMATCH", "Bike state is inconsistent with the rental"}},
	{rental.ErrNoOpenRental, errorResponse{http.StatusNotFound, "NO_OPEN_RENTAL", "No active rental"}},
	{rental.ErrStationNotFound, errorResponse{http.StatusNotFound, "STATION_NOT_FOUND", "Station not found"}},
	{rental.ErrBikeNotFound, errorResponse{http.StatusNotFound, "BIKE_NOT_FOUND", "Bike not found"}},
	{rental.ErrMemberNotFound, errorResponse{http.StatusNotFound, "MEMBER_NOT_FOUND", "Member not found"}},
	{ledger.ErrInsufficientBalance, errorResponse{http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", "Not enough points"}},
	{ledger.ErrInvalidAmount, errorResponse{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be positive"}},
	{ticket.ErrUnknownType, errorResponse{http.StatusBadRequest, "INVALID_TICKET_TYPE", "Unknown ticket type"}},
	{ranking.ErrWeekNotFinished, errorResponse{http.StatusBadRequest, "WEEK_NOT_FINISHED", "Week has not finished yet"}},
	{payment.ErrNoCustomer, errorResponse{http.StatusPreconditionFailed, "PAYMENT_METHOD_REQUIRED", "No payment customer"}},
	{payment.ErrNoPaymentMethod, errorResponse{http.StatusPreconditionFailed, "PAYMENT_METHOD_REQUIRED", "No saved payment method"}},
	{payment.ErrChargeFailed, errorResponse{http.StatusPaymentRequired, "PAYMENT_FAILED", "Payment failed"}},
	{database.ErrTransient, errorResponse{http.StatusServiceUnavailable, "TRANSIENT", "Temporarily unavailable, retry"}},
}

var internalError = errorResponse{http.StatusInternalServerError, "INTERNAL", "internal error"}

func lookupError(err error) errorResponse {
	for _, e := range errorResponses {
		if errors.Is(err, e.err) {
			return e.resp
		}
	}
	return internalError
}

// writeError renders err as a JSON error body. Unexpected errors are logged
// and hidden from the caller.
func writeError(c *gin.Context, err error) {
	resp := lookupError(err)
	body := gin.H{"code": resp.code, "message": resp.message}

	switch resp.status {
	case http.StatusInternalServerError:
		middleware.GetLogger(c).ErrorContext(c, "request failed", "error", err)
	case http.StatusServiceUnavailable:
		middleware.GetLogger(c).WarnContext(c, "transient failure", "error", err)
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}

	if bikeID, ok := rental.BikeFromAlreadyRentingError(err); ok {
		body["bikeId"] = bikeID
	}
	c.JSON(resp.status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": message})
}
