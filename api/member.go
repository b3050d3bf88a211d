package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/member"
)

// currentMember resolves the authenticated member, registering it on first
// sight. It writes the error response itself and returns false on failure.
func (a *API) currentMember(c *gin.Context) (*member.Member, bool) {
	auth0ID, ok := middleware.GetAuth0ID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
		return nil, false
	}

	m, err := a.Members.GetOrCreateMember(c, auth0ID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return m, true
}

type meResponse struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email,omitempty"`
	Name       string     `json:"name,omitempty"`
	Balance    int64      `json:"balance"`
	HasPayment bool       `json:"hasPaymentCustomer"`
	LastBikeID *uuid.UUID `json:"lastBikeId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (a *API) meHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	if !m.Email.Valid && a.UserInfo != nil {
		if token, ok := middleware.BearerToken(c); ok {
			info, err := a.UserInfo.GetUserInfo(c, token)
			if err != nil {
				logger.WarnContext(c, "failed to fetch user info", "error", err)
			} else if err := a.Members.UpdateProfile(c, m.Auth0ID, info.Email, info.DisplayName()); err != nil {
				logger.ErrorContext(c, "failed to save profile", "error", err)
			} else {
				m.Email.String, m.Email.Valid = info.Email, info.Email != ""
				m.Name.String, m.Name.Valid = info.DisplayName(), info.DisplayName() != ""
			}
		}
	}

	c.JSON(http.StatusOK, meResponse{
		ID:         m.ID,
		Email:      m.Email.String,
		Name:       m.Name.String,
		Balance:    m.Balance,
		HasPayment: m.StripeID.Valid,
		LastBikeID: m.LastBikeID,
		CreatedAt:  m.CreatedAt,
	})
}
